package plan

import "strconv"

// Multiplicity is the lower/upper cardinality of a value. A nil Upper is
// unbounded.
type Multiplicity struct {
	Lower int  `json:"lowerBound"`
	Upper *int `json:"upperBound,omitempty"`
}

// Bounded returns the multiplicity [lower..upper].
func Bounded(lower, upper int) Multiplicity {
	return Multiplicity{Lower: lower, Upper: &upper}
}

// Unbounded returns the multiplicity [lower..*].
func Unbounded(lower int) Multiplicity {
	return Multiplicity{Lower: lower}
}

var (
	PureOne  = Bounded(1, 1)
	ZeroOne  = Bounded(0, 1)
	ZeroMany = Unbounded(0)
	OneMany  = Unbounded(1)
)

// IsToOne reports whether at most one value is allowed.
func (m Multiplicity) IsToOne() bool { return m.Upper != nil && *m.Upper == 1 }

// IsRequired reports whether a value must be present.
func (m Multiplicity) IsRequired() bool { return m.Lower > 0 }

// String renders the multiplicity the way Pure does: "*" for [0..*], "n" for
// an exact bound, "n..*" for an open upper bound and "n..m" otherwise.
func (m Multiplicity) String() string {
	lower := strconv.Itoa(m.Lower)
	switch {
	case m.Upper == nil && m.Lower == 0:
		return "*"
	case m.Upper == nil:
		return lower + "..*"
	case *m.Upper == m.Lower:
		return lower
	default:
		return lower + ".." + strconv.Itoa(*m.Upper)
	}
}

// Variable is a declared plan parameter.
type Variable struct {
	Name           string       `json:"name"`
	Class          string       `json:"class"`
	Multiplicity   Multiplicity `json:"multiplicity"`
	SupportsStream bool         `json:"supportsStream,omitempty"`
}

// String renders name:Class[multiplicity].
func (v Variable) String() string {
	return v.Name + ":" + v.Class + "[" + v.Multiplicity.String() + "]"
}
