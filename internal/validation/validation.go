// Package validation checks externally supplied plan parameters against
// their declared types and multiplicities, and normalizes them into typed
// values before execution.
//
// Validation runs in two passes. Validate fails on missing mandatory
// parameters, then inspects every bound value and reports all invalid
// parameters together. Streamed values are not inspected there. Normalize
// runs after a successful Validate: it converts textual values into typed
// ones and re-wraps streams so each element is checked as it is pulled;
// streams of parameters that do not support streaming are drained.
package validation

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/hanpama/legend/internal/metrics"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
)

// Bindings gives access to the values bound to parameter names.
type Bindings interface {
	Lookup(name string) (any, bool)
	Bind(name string, v any)
}

// Kind classifies validation failures.
type Kind int

const (
	KindMissing Kind = iota + 1
	KindInvalid
	KindUnknownType
	KindUnsupported
	KindStream
)

// Error is a fatal parameter validation failure.
type Error struct {
	Kind       Kind
	Parameters []string
	msg        string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Category() metrics.Category { return metrics.CategoryUser }

// Options configures a Validator.
type Options struct {
	StrictDateFormats []string
	DateTimeFormats   []string
}

type Option func(*Options)

func WithStrictDateFormats(formats ...string) Option {
	return func(o *Options) { o.StrictDateFormats = formats }
}

func WithDateTimeFormats(formats ...string) Option {
	return func(o *Options) { o.DateTimeFormats = formats }
}

// Validator validates and normalizes parameters.
type Validator struct {
	types Registry
}

func New(opts ...Option) *Validator {
	var o Options
	for _, f := range opts {
		f(&o)
	}
	return &Validator{types: NewRegistry(o.StrictDateFormats, o.DateTimeFormats)}
}

// Validate checks the bound values of params.
func (v *Validator) Validate(params []plan.Variable, b Bindings, enums []plan.EnumValidationContext) error {
	var missing []plan.Variable
	for _, p := range params {
		if _, ok := b.Lookup(p.Name); !ok && p.Multiplicity.IsRequired() {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return &Error{
			Kind:       KindMissing,
			Parameters: names(missing),
			msg:        "Missing external parameter(s): " + describe(missing),
		}
	}

	var invalid []plan.Variable
	var details []string
	for _, p := range params {
		val, ok := b.Lookup(p.Name)
		if !ok {
			continue
		}
		if _, streamed := val.(result.Seq); streamed {
			continue
		}
		valid, err := v.check(p, val, enums)
		if err != nil {
			return err
		}
		if !valid {
			invalid = append(invalid, p)
			details = append(details, fmt.Sprintf("%s with value %s", p, render(val)))
		}
	}
	if len(invalid) > 0 {
		return &Error{
			Kind:       KindInvalid,
			Parameters: names(invalid),
			msg:        "Invalid external parameter(s): " + strings.Join(details, ", "),
		}
	}
	return nil
}

func (v *Validator) check(p plan.Variable, val any, enums []plan.EnumValidationContext) (bool, error) {
	list, isList := val.([]any)
	if isList && p.Multiplicity.IsToOne() && len(list) > 1 {
		return false, nil
	}
	tv, ok := v.types[p.Class]
	if !ok {
		return v.checkEnum(p, val, enums)
	}
	if !isList {
		return validValue(tv, val), nil
	}
	for _, item := range list {
		if !validValue(tv, item) {
			return false, nil
		}
	}
	return true, nil
}

func (v *Validator) checkEnum(p plan.Variable, val any, enums []plan.EnumValidationContext) (bool, error) {
	i := slices.IndexFunc(enums, func(c plan.EnumValidationContext) bool { return c.VarName == p.Name })
	if i < 0 {
		return false, &Error{
			Kind:       KindUnknownType,
			Parameters: []string{p.Name},
			msg:        fmt.Sprintf("Unknown type %q for parameter %s. Supported types are: %s", p.Class, p.Name, strings.Join(v.types.Names(), ", ")),
		}
	}
	if _, isList := val.([]any); isList {
		return false, &Error{
			Kind:       KindUnsupported,
			Parameters: []string{p.Name},
			msg:        fmt.Sprintf("Collections of enum values are not supported: parameter %s", p),
		}
	}
	if val == nil {
		return true, nil
	}
	return slices.Contains(enums[i].ValidEnumValues, fmt.Sprint(val)), nil
}

// Normalize converts the bound values of params in place. It must only be
// called after Validate succeeded.
func (v *Validator) Normalize(params []plan.Variable, b Bindings) error {
	for _, p := range params {
		val, ok := b.Lookup(p.Name)
		if !ok {
			continue
		}
		tv := v.types[p.Class]
		switch x := val.(type) {
		case result.Seq:
			seq := normalizeStream(p, tv, x)
			if p.SupportsStream {
				b.Bind(p.Name, seq)
				continue
			}
			list, err := result.Collect(seq)
			if err != nil {
				return err
			}
			b.Bind(p.Name, list)
		case []any:
			out := make([]any, len(x))
			for i, item := range x {
				out[i] = normalizeValue(tv, item)
			}
			b.Bind(p.Name, out)
		default:
			b.Bind(p.Name, normalizeValue(tv, x))
		}
	}
	return nil
}

func normalizeValue(tv TypeValidator, v any) any {
	if tv == nil {
		return v
	}
	if out, ok := convert(tv, v); ok {
		return out
	}
	return v
}

func normalizeStream(p plan.Variable, tv TypeValidator, in result.Seq) result.Seq {
	return func(yield func(any, error) bool) {
		for item, err := range in {
			if err != nil {
				yield(nil, streamError(p, err))
				return
			}
			out := item
			if tv != nil {
				converted, ok := convert(tv, item)
				if !ok {
					yield(nil, streamError(p, fmt.Errorf("invalid value %s", render(item))))
					return
				}
				out = converted
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func streamError(p plan.Variable, cause error) error {
	return &Error{
		Kind:       KindStream,
		Parameters: []string{p.Name},
		msg:        fmt.Sprintf("Unable to process parameter %s of type %s: %s", p.Name, p.Class, cause.Error()),
	}
}

func names(vs []plan.Variable) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}

func describe(vs []plan.Variable) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
