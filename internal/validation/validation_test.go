package validation

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/stretchr/testify/require"
)

type bindings map[string]any

func (b bindings) Lookup(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

func (b bindings) Bind(name string, v any) { b[name] = v }

func param(name, class string, m plan.Multiplicity) plan.Variable {
	return plan.Variable{Name: name, Class: class, Multiplicity: m}
}

func TestValidate_Acceptance(t *testing.T) {
	cases := []struct {
		class string
		value any
		valid bool
	}{
		{TypeInteger, "42", true},
		{TypeInteger, "4.2", false},
		{TypeInteger, int64(7), true},
		{TypeFloat, "4.2", true},
		{TypeFloat, "abc", false},
		{TypeFloat, 3, true},
		{TypeDecimal, "12.345", true},
		{TypeDecimal, "0x1p3", false},
		{TypeBoolean, "TRUE", true},
		{TypeBoolean, "yes", false},
		{TypeBoolean, 1, false},
		{TypeStrictDate, "2020-01-02", true},
		{TypeStrictDate, "2020-1-2", false},
		{TypeDateTime, "2020-01-02T10:11:12", true},
		{TypeDateTime, "2020-01-02T10:11:12.123+0100", true},
		{TypeDateTime, "2020-01-02", false},
		{TypeDate, "2020-01-02", true},
		{TypeDate, "2020-01-02T10:11:12Z", true},
		{TypeString, "anything", true},
		{TypeString, 5, false},
	}
	v := New()
	for _, tc := range cases {
		t.Run(tc.class+"/"+render(tc.value), func(t *testing.T) {
			err := v.Validate([]plan.Variable{param("p", tc.class, plan.PureOne)}, bindings{"p": tc.value}, nil)
			if tc.valid {
				require.NoError(t, err)
				return
			}
			var verr *Error
			require.ErrorAs(t, err, &verr)
			require.Equal(t, KindInvalid, verr.Kind)
		})
	}
}

func TestValidate_Missing(t *testing.T) {
	params := []plan.Variable{
		param("a", TypeString, plan.PureOne),
		param("b", TypeInteger, plan.OneMany),
		param("c", TypeInteger, plan.ZeroOne),
	}
	err := New().Validate(params, bindings{}, nil)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindMissing, verr.Kind)
	require.Equal(t, "Missing external parameter(s): a:String[1],b:Integer[1..*]", verr.Error())
	require.Equal(t, []string{"a", "b"}, verr.Parameters)
}

func TestValidate_InvalidAggregated(t *testing.T) {
	params := []plan.Variable{
		param("a", TypeInteger, plan.PureOne),
		param("b", TypeString, plan.PureOne),
		param("c", TypeBoolean, plan.PureOne),
	}
	err := New().Validate(params, bindings{"a": "x", "b": "ok", "c": "maybe"}, nil)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"a", "c"}, verr.Parameters)
	require.Equal(t, `Invalid external parameter(s): a:Integer[1] with value "x", c:Boolean[1] with value "maybe"`, verr.Error())
}

func TestValidate_ToOneGivenMany(t *testing.T) {
	p := []plan.Variable{param("a", TypeInteger, plan.PureOne)}
	require.Error(t, New().Validate(p, bindings{"a": []any{"1", "2"}}, nil))
	require.NoError(t, New().Validate(p, bindings{"a": []any{"1"}}, nil))
}

func TestValidate_UnknownType(t *testing.T) {
	err := New().Validate([]plan.Variable{param("a", "my::Thing", plan.PureOne)}, bindings{"a": "x"}, nil)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindUnknownType, verr.Kind)
	require.Contains(t, verr.Error(), "StrictDate, DateTime, Date, Integer, Float, Decimal, Boolean, String")
}

func TestValidate_Enum(t *testing.T) {
	params := []plan.Variable{param("color", "my::Color", plan.PureOne)}
	enums := []plan.EnumValidationContext{{VarName: "color", ValidEnumValues: []string{"RED", "GREEN"}}}
	v := New()

	require.NoError(t, v.Validate(params, bindings{"color": "RED"}, enums))

	err := v.Validate(params, bindings{"color": "BLUE"}, enums)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindInvalid, verr.Kind)

	err = v.Validate(params, bindings{"color": []any{"RED"}}, enums)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, KindUnsupported, verr.Kind)
}

func TestValidate_SkipsStreams(t *testing.T) {
	seq := result.Seq(func(yield func(any, error) bool) { yield("not a number", nil) })
	p := []plan.Variable{param("a", TypeInteger, plan.ZeroMany)}
	require.NoError(t, New().Validate(p, bindings{"a": seq}, nil))
}

func TestNormalize(t *testing.T) {
	params := []plan.Variable{
		param("i", TypeInteger, plan.PureOne),
		param("d", TypeStrictDate, plan.PureOne),
		param("dec", TypeDecimal, plan.PureOne),
		param("list", TypeBoolean, plan.ZeroMany),
		param("s", TypeString, plan.ZeroOne),
	}
	b := bindings{"i": "42", "d": "2021-03-04", "dec": "1.5", "list": []any{"true", false}, "s": nil}
	v := New()
	require.NoError(t, v.Validate(params, b, nil))
	require.NoError(t, v.Normalize(params, b))

	require.Equal(t, int64(42), b["i"])
	require.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), b["d"])
	require.Equal(t, 0, b["dec"].(*big.Float).Cmp(big.NewFloat(1.5)))
	require.Equal(t, []any{true, false}, b["list"])
	require.Nil(t, b["s"])
}

func TestNormalize_Streams(t *testing.T) {
	stream := func(items ...any) result.Seq {
		return func(yield func(any, error) bool) {
			for _, it := range items {
				if !yield(it, nil) {
					return
				}
			}
		}
	}

	t.Run("lazy failure on pull", func(t *testing.T) {
		p := plan.Variable{Name: "ids", Class: TypeInteger, Multiplicity: plan.ZeroMany, SupportsStream: true}
		b := bindings{"ids": stream("1", "x")}
		require.NoError(t, New().Normalize([]plan.Variable{p}, b))

		seq, ok := b["ids"].(result.Seq)
		require.True(t, ok)
		var got []any
		var err error
		for item, e := range seq {
			if e != nil {
				err = e
				break
			}
			got = append(got, item)
		}
		if diff := cmp.Diff([]any{int64(1)}, got); diff != "" {
			t.Fatalf("streamed values mismatch (-want +got):\n%s", diff)
		}
		var verr *Error
		require.ErrorAs(t, err, &verr)
		require.Equal(t, KindStream, verr.Kind)
		require.Contains(t, verr.Error(), "Unable to process parameter ids of type Integer")
	})

	t.Run("drained when streaming unsupported", func(t *testing.T) {
		p := param("ids", TypeInteger, plan.ZeroMany)
		b := bindings{"ids": stream("1", "2")}
		require.NoError(t, New().Normalize([]plan.Variable{p}, b))
		require.Equal(t, []any{int64(1), int64(2)}, b["ids"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		boom := errors.New("boom")
		p := param("ids", TypeInteger, plan.ZeroMany)
		b := bindings{"ids": result.Seq(func(yield func(any, error) bool) { yield(nil, boom) })}
		err := New().Normalize([]plan.Variable{p}, b)
		require.ErrorContains(t, err, "boom")
	})
}

func TestCustomFormats(t *testing.T) {
	v := New(WithStrictDateFormats("02/01/2006"))
	p := []plan.Variable{param("d", TypeStrictDate, plan.PureOne)}
	require.NoError(t, v.Validate(p, bindings{"d": "04/03/2021"}, nil))
	require.Error(t, v.Validate(p, bindings{"d": "2021-03-04"}, nil))
}
