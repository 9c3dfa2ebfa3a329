package plan

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValueSpecification is a literal or variable reference carried by a plan.
type ValueSpecification interface {
	valueSpecification()
}

// Literal is a primitive value. Type is the Pure primitive name when known
// ("String", "Integer", ...) and empty for raw JSON literals.
type Literal struct {
	Type  string
	Value any
}

// VariableRef refers to a bound variable by name.
type VariableRef struct {
	Name string
}

// Collection is an ordered list of value specifications.
type Collection struct {
	Values []ValueSpecification
}

// EnumValue is a value of an enumeration.
type EnumValue struct {
	Enumeration string
	Value       string
}

func (Literal) valueSpecification()     {}
func (VariableRef) valueSpecification() {}
func (Collection) valueSpecification()  {}
func (EnumValue) valueSpecification()   {}

// Lookup resolves a variable name to its value.
type Lookup func(name string) (any, bool, error)

// Evaluate computes the value of vs. Variables are resolved through lookup;
// an unbound variable evaluates to nil.
func Evaluate(vs ValueSpecification, lookup Lookup) (any, error) {
	switch v := vs.(type) {
	case nil:
		return nil, nil
	case Literal:
		return v.Value, nil
	case EnumValue:
		return v.Value, nil
	case VariableRef:
		if lookup == nil {
			return nil, fmt.Errorf("variable %q cannot be resolved without bindings", v.Name)
		}
		val, ok, err := lookup(v.Name)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		if !ok {
			return nil, nil
		}
		return val, nil
	case Collection:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			val, err := Evaluate(item, lookup)
			if err != nil {
				return nil, err
			}
			if list, ok := val.([]any); ok {
				out = append(out, list...)
				continue
			}
			if val != nil {
				out = append(out, val)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value specification %T", vs)
	}
}

// primitive _type tags and the Pure type they denote
var primitiveTypes = map[string]string{
	"string":     "String",
	"integer":    "Integer",
	"float":      "Float",
	"decimal":    "Decimal",
	"boolean":    "Boolean",
	"strictDate": "StrictDate",
	"dateTime":   "DateTime",
	"date":       "Date",
}

type valueWire struct {
	Type     string            `json:"_type"`
	Name     string            `json:"name"`
	Value    json.RawMessage   `json:"value"`
	Values   []json.RawMessage `json:"values"`
	FullPath string            `json:"fullPath"`
}

// DecodeValue decodes a value specification. JSON that is not a tagged value
// specification becomes a raw Literal.
func DecodeValue(raw json.RawMessage) (ValueSpecification, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		if _, tagged := fields["_type"]; tagged {
			return decodeTaggedValue(raw)
		}
	}
	v, err := DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return Literal{Value: v}, nil
}

func decodeTaggedValue(raw json.RawMessage) (ValueSpecification, error) {
	var w valueWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if t, ok := primitiveTypes[w.Type]; ok {
		v, err := DecodeJSON(w.Value)
		if err != nil {
			return nil, fmt.Errorf("%s literal: %w", w.Type, err)
		}
		return Literal{Type: t, Value: v}, nil
	}
	switch w.Type {
	case "var":
		if w.Name == "" {
			return nil, fmt.Errorf("var without name")
		}
		return VariableRef{Name: w.Name}, nil
	case "collection":
		c := Collection{Values: make([]ValueSpecification, 0, len(w.Values))}
		for _, item := range w.Values {
			vs, err := DecodeValue(item)
			if err != nil {
				return nil, err
			}
			c.Values = append(c.Values, vs)
		}
		return c, nil
	case "enumValue":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return nil, fmt.Errorf("enumValue: %w", err)
		}
		return EnumValue{Enumeration: w.FullPath, Value: s}, nil
	}
	return nil, fmt.Errorf("unknown value specification type %q", w.Type)
}

// DecodeJSON decodes raw JSON keeping integers as int64 and other numbers as
// float64.
func DecodeJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := unmarshalNumbers(raw, &v); err != nil {
		return nil, err
	}
	return NormalizeNumbers(v), nil
}

// NormalizeNumbers rewrites json.Number values found in v.
func NormalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil || math.IsInf(f, 0) {
			return x.String()
		}
		return f
	case []any:
		for i := range x {
			x[i] = NormalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = NormalizeNumbers(x[k])
		}
		return x
	default:
		return v
	}
}
