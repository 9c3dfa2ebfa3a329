package nativecode

import (
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Loader resolves units by qualified name.
type Loader interface {
	Load(name string) (*Unit, error)
}

// Unit is a loaded unit ready for invocation.
type Unit struct {
	name       string
	implements []string
	methods    map[string]*method

	// env adds the functions other units are called by.
	env func(map[string]any)
}

type method struct {
	params  []string
	program *vm.Program

	fn    Func
	arity int
}

// GoMethod is a method of a unit implemented in Go. A negative Arity accepts
// any number of arguments.
type GoMethod struct {
	Arity int
	Fn    Func
}

// NewGoUnit returns a unit whose methods are Go functions.
func NewGoUnit(name string, implements []string, methods map[string]GoMethod) *Unit {
	u := &Unit{name: name, implements: implements, methods: make(map[string]*method, len(methods))}
	for n, m := range methods {
		u.methods[n] = &method{fn: m.Fn, arity: m.Arity}
	}
	return u
}

// NewUnit builds a unit from a source and its compiled method programs, as
// returned by CompileUnit.
func NewUnit(src Source, programs map[string]*vm.Program) (*Unit, error) {
	u := &Unit{name: src.QualifiedName(), implements: src.Implements, methods: make(map[string]*method, len(src.Methods))}
	for _, m := range src.Methods {
		p, ok := programs[m.Name]
		if !ok {
			return nil, fmt.Errorf("nativecode: %s: no program for method %q", u.name, m.Name)
		}
		u.methods[m.Name] = &method{params: m.Params, program: p}
	}
	return u, nil
}

// Name returns the qualified name.
func (u *Unit) Name() string { return u.name }

// Implements reports whether the unit declares capability.
func (u *Unit) Implements(capability string) bool {
	return slices.Contains(u.implements, capability)
}

// HasMethod reports whether the unit has the named method.
func (u *Unit) HasMethod(name string) bool {
	_, ok := u.methods[name]
	return ok
}

// Invoke calls a method with positional arguments.
func (u *Unit) Invoke(name string, args ...any) (any, error) {
	m, ok := u.methods[name]
	if !ok {
		return nil, &ContractError{Unit: u.name, Method: name, Reason: "no such method"}
	}
	if m.fn != nil {
		if m.arity >= 0 && len(args) != m.arity {
			return nil, &ContractError{Unit: u.name, Method: name, Reason: fmt.Sprintf("expects %d arguments, got %d", m.arity, len(args))}
		}
		return m.fn(args...)
	}
	if len(args) != len(m.params) {
		return nil, &ContractError{Unit: u.name, Method: name, Reason: fmt.Sprintf("expects %d arguments, got %d", len(m.params), len(args))}
	}
	env := make(map[string]any, len(args))
	if u.env != nil {
		u.env(env)
	}
	for i, p := range m.params {
		env[p] = args[i]
	}
	out, err := expr.Run(m.program, env)
	if err != nil {
		return nil, fmt.Errorf("nativecode: %s.%s: %w", u.name, name, err)
	}
	return out, nil
}
