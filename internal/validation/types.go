package validation

import (
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Pure primitive type names.
const (
	TypeStrictDate = "StrictDate"
	TypeDateTime   = "DateTime"
	TypeDate       = "Date"
	TypeInteger    = "Integer"
	TypeFloat      = "Float"
	TypeDecimal    = "Decimal"
	TypeBoolean    = "Boolean"
	TypeString     = "String"
)

// Default accepted textual formats, tried in order.
var (
	DefaultStrictDateFormats = []string{"2006-01-02"}
	DefaultDateTimeFormats   = []string{
		"2006-01-02T15:04:05.000Z0700",
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		time.RFC3339Nano,
	}
)

// TypeValidator checks values of one primitive type.
type TypeValidator interface {
	// IsNative reports whether v already has the runtime representation of
	// the type.
	IsNative(v any) bool
	// Parse converts a textual value. ok is false when s is not of the type.
	Parse(s string) (v any, ok bool)
}

// Registry maps type names to validators.
type Registry map[string]TypeValidator

// NewRegistry returns the validators of the built-in types using the given
// date formats. Nil format lists select the defaults.
func NewRegistry(strictDateFormats, dateTimeFormats []string) Registry {
	if strictDateFormats == nil {
		strictDateFormats = DefaultStrictDateFormats
	}
	if dateTimeFormats == nil {
		dateTimeFormats = DefaultDateTimeFormats
	}
	strict := dateValidator{formats: strictDateFormats}
	dateTime := dateValidator{formats: dateTimeFormats}
	return Registry{
		TypeStrictDate: strict,
		TypeDateTime:   dateTime,
		TypeDate:       unionValidator{strict, dateTime},
		TypeInteger:    integerValidator{},
		TypeFloat:      floatValidator{},
		TypeDecimal:    decimalValidator{},
		TypeBoolean:    booleanValidator{},
		TypeString:     stringValidator{},
	}
}

// Names returns the supported type names in a fixed order.
func (r Registry) Names() []string {
	order := []string{TypeStrictDate, TypeDateTime, TypeDate, TypeInteger, TypeFloat, TypeDecimal, TypeBoolean, TypeString}
	out := make([]string, 0, len(r))
	for _, n := range order {
		if _, ok := r[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

type dateValidator struct{ formats []string }

func (dateValidator) IsNative(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func (d dateValidator) Parse(s string) (any, bool) {
	for _, f := range d.formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, true
		}
	}
	return nil, false
}

type unionValidator []TypeValidator

func (u unionValidator) IsNative(v any) bool {
	for _, tv := range u {
		if tv.IsNative(v) {
			return true
		}
	}
	return false
}

func (u unionValidator) Parse(s string) (any, bool) {
	for _, tv := range u {
		if v, ok := tv.Parse(s); ok {
			return v, true
		}
	}
	return nil, false
}

type integerValidator struct{}

func (integerValidator) IsNative(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return true
	}
	return false
}

func (integerValidator) Parse(s string) (any, bool) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, false
	}
	return i, true
}

type floatValidator struct{}

func (floatValidator) IsNative(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return integerValidator{}.IsNative(v)
}

func (floatValidator) Parse(s string) (any, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

type decimalValidator struct{}

func (decimalValidator) IsNative(v any) bool {
	switch v.(type) {
	case *big.Float, json.Number:
		return true
	}
	return floatValidator{}.IsNative(v)
}

func (decimalValidator) Parse(s string) (any, bool) {
	if strings.ContainsAny(s, "xXpP_") {
		return nil, false
	}
	f, _, err := big.ParseFloat(s, 10, 128, big.ToNearestEven)
	if err != nil {
		return nil, false
	}
	return f, true
}

type booleanValidator struct{}

func (booleanValidator) IsNative(v any) bool {
	_, ok := v.(bool)
	return ok
}

func (booleanValidator) Parse(s string) (any, bool) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	}
	return nil, false
}

type stringValidator struct{}

func (stringValidator) IsNative(v any) bool {
	_, ok := v.(string)
	return ok
}

func (stringValidator) Parse(s string) (any, bool) { return s, true }

// validValue reports whether v is of the type, natively or as parseable text.
func validValue(tv TypeValidator, v any) bool {
	if v == nil || tv.IsNative(v) {
		return true
	}
	if s, ok := v.(string); ok {
		_, ok := tv.Parse(s)
		return ok
	}
	return false
}

// convert returns the typed representation of a valid value.
func convert(tv TypeValidator, v any) (any, bool) {
	if v == nil || tv.IsNative(v) {
		return v, true
	}
	if s, ok := v.(string); ok {
		return tv.Parse(s)
	}
	return nil, false
}
