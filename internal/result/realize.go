package result

import "fmt"

// Collect drains seq into a list.
func Collect(seq Seq) ([]any, error) {
	out := []any{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Realize materializes r into memory. Streaming results and constants over a
// Seq become constants over a list; multi results are realized element-wise
// and then closed.
func Realize(r Result) (Result, error) {
	switch v := r.(type) {
	case nil:
		return &Constant{}, nil
	case *StreamingObject:
		values, err := v.Values()
		if err != nil {
			return nil, err
		}
		return &Constant{Value: values}, nil
	case *Constant:
		seq, ok := v.Value.(Seq)
		if !ok {
			return v, nil
		}
		values, err := Collect(seq)
		if err != nil {
			return nil, err
		}
		return &Constant{Value: values}, nil
	case *Multi:
		out := &Multi{Results: make(map[string]Result, len(v.Results))}
		done := map[Result]Result{}
		for _, name := range v.Names() {
			sub := v.Results[name]
			if got, ok := done[sub]; ok {
				out.Results[name] = got
				continue
			}
			got, err := Realize(sub)
			if err != nil {
				return nil, fmt.Errorf("realize %s: %w", name, err)
			}
			done[sub] = got
			out.Results[name] = got
		}
		if err := v.Close(); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return r, nil
	}
}

// Value returns the realized value of r: the value of a constant, the
// objects of a stream or the payload of an error value.
func Value(r Result) (any, error) {
	realized, err := Realize(r)
	if err != nil {
		return nil, err
	}
	switch v := realized.(type) {
	case *Constant:
		return v.Value, nil
	case *Error:
		return v.Payload, nil
	case *Multi:
		return Value(v.Last())
	default:
		return nil, fmt.Errorf("result %T has no value", r)
	}
}
