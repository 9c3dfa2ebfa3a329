package result

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/graphfetch"
	"github.com/stretchr/testify/require"
)

type countingResult struct{ closes int }

func (c *countingResult) Close() error { c.closes++; return nil }

func TestStreamingObject_CloseOnce(t *testing.T) {
	up := &countingResult{}
	hooks := 0
	s := NewStreamingObject(FromValues([]any{1}, Builder{}).seq, Builder{Type: BuilderObject}, up, func() error {
		hooks++
		return nil
	})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, up.closes)
	require.Equal(t, 1, hooks)
}

func TestStreamingObject_SingleConsumer(t *testing.T) {
	s := FromValues([]any{"a", "b"}, Builder{Type: BuilderJSON})
	got, err := Collect(s.Objects())
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, got)

	_, err = Collect(s.Objects())
	require.ErrorIs(t, err, ErrConsumed)
}

func TestRealize(t *testing.T) {
	t.Run("Streaming becomes constant and closes", func(t *testing.T) {
		up := &countingResult{}
		s := NewStreamingObject(FromValues([]any{1, 2}, Builder{}).seq, Builder{}, up)

		got, err := Realize(s)
		require.NoError(t, err)
		if diff := cmp.Diff(&Constant{Value: []any{1, 2}}, got); diff != "" {
			t.Fatalf("Realize mismatch (-want +got):\n%s", diff)
		}
		require.Equal(t, 1, up.closes)
	})

	t.Run("Constant over seq", func(t *testing.T) {
		seq := Seq(func(yield func(any, error) bool) {
			_ = yield("x", nil) && yield("y", nil)
		})
		got, err := Realize(&Constant{Value: seq})
		require.NoError(t, err)
		require.Equal(t, []any{"x", "y"}, got.(*Constant).Value)
	})

	t.Run("Stream error", func(t *testing.T) {
		boom := errors.New("boom")
		up := &countingResult{}
		s := NewStreamingObject(func(yield func(any, error) bool) { yield(nil, boom) }, Builder{}, up)
		_, err := Realize(s)
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, up.closes)
	})

	t.Run("Multi keeps shared results shared", func(t *testing.T) {
		c := &Constant{Value: 5}
		got, err := Realize(&Multi{Results: map[string]Result{"x": c, LastKey: c}})
		require.NoError(t, err)
		m := got.(*Multi)
		require.Same(t, m.Results["x"], m.Last())
	})
}

func TestMulti_CloseDistinct(t *testing.T) {
	a := &countingResult{}
	m := &Multi{Results: map[string]Result{"a": a, LastKey: a}}
	require.NoError(t, m.Close())
	require.Equal(t, 1, a.closes)
}

func TestSerialize(t *testing.T) {
	tree, err := graphfetch.Parse(`Person { name }`)
	require.NoError(t, err)

	cases := []struct {
		name string
		in   Result
		want string
	}{
		{"Constant", &Constant{Value: []any{int64(1), "a"}}, `{"values":[1,"a"]}`},
		{"Error", &Error{Code: 1, Message: "bad", Payload: "p"}, `{"error":{"code":1,"message":"bad","payload":"p"}}`},
		{"Multi", &Multi{Results: map[string]Result{"x": &Constant{Value: 1}, LastKey: &Constant{Value: 2}}}, `{"results":{"@LAST":{"values":2},"x":{"values":1}}}`},
		{"Streaming pruned", FromValues([]any{map[string]any{"name": "Ann", "age": 3}}, Builder{Type: BuilderObject, Class: "Person", Tree: tree}),
			`{"builder":{"_type":"object","class":"Person"},"values":[{"name":"Ann"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Serialize(&buf, tc.in))
			require.Equal(t, tc.want+"\n", buf.String())
		})
	}
}

func TestValue(t *testing.T) {
	v, err := Value(&Error{Code: 1, Payload: "p"})
	require.NoError(t, err)
	require.Equal(t, "p", v)

	v, err = Value(&Multi{Results: map[string]Result{LastKey: &Constant{Value: 3}}})
	require.NoError(t, err)
	require.Equal(t, 3, v)
}
