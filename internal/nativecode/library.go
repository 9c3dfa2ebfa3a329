package nativecode

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Func is a library function callable from generated code.
type Func func(args ...any) (any, error)

// Symbol is one entry of a Library or one method of a session unit.
type Symbol struct {
	Package string
	Name    string
	Fn      Func

	// unit and method are set for methods of session units.
	unit   string
	method string
}

// QualifiedName returns package.Name.
func (s Symbol) QualifiedName() string { return qualify(s.Package, s.Name) }

// Library is the registry of functions generated code may be given access
// to. It is safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	symbols map[string]Symbol
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{symbols: make(map[string]Symbol)}
}

// Register adds fn as pkg.name.
func (l *Library) Register(pkg, name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("nativecode: invalid library symbol %q", qualify(pkg, name))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	q := qualify(pkg, name)
	if _, dup := l.symbols[q]; dup {
		return fmt.Errorf("nativecode: library symbol %s already registered", q)
	}
	l.symbols[q] = Symbol{Package: pkg, Name: name, Fn: fn}
	return nil
}

// MustRegister is Register that panics on error.
func (l *Library) MustRegister(pkg, name string, fn Func) {
	if err := l.Register(pkg, name, fn); err != nil {
		panic(err)
	}
}

// Symbols returns every symbol sorted by qualified name.
func (l *Library) Symbols() []Symbol {
	l.mu.RLock()
	out := make([]Symbol, 0, len(l.symbols))
	for _, s := range l.symbols {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName() < out[j].QualifiedName() })
	return out
}

// Lookup returns the symbol with the given qualified name.
func (l *Library) Lookup(qualified string) (Symbol, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.symbols[qualified]
	return s, ok
}

// VariableSource is implemented by execution states handed to generated
// code.
type VariableSource interface {
	Variable(name string) (any, error)
}

// Realizer is implemented by values that can be materialized into a list.
type Realizer interface {
	Values() ([]any, error)
}

// Library packages registered by StandardLibrary.
const (
	PackageState = "legend.state"
	PackageStd   = "legend.std"
	PackageJSON  = "legend.json"
)

// StandardLibrary returns a library with the functions every plan may
// import.
func StandardLibrary() *Library {
	l := NewLibrary()
	l.MustRegister(PackageState, "variable", variable)
	l.MustRegister(PackageState, "realize", realize)
	l.MustRegister(PackageStd, "toOne", toOne)
	l.MustRegister(PackageStd, "toMany", toMany)
	l.MustRegister(PackageStd, "isEmpty", isEmpty)
	l.MustRegister(PackageStd, "coalesce", coalesce)
	l.MustRegister(PackageStd, "format", format)
	l.MustRegister(PackageJSON, "jsonDecode", jsonDecode)
	l.MustRegister(PackageJSON, "jsonEncode", jsonEncode)
	return l
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s expects %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func variable(args ...any) (any, error) {
	if err := arity("variable", args, 2); err != nil {
		return nil, err
	}
	src, ok := args[0].(VariableSource)
	if !ok {
		return nil, fmt.Errorf("variable: %T does not hold variables", args[0])
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("variable: name must be a string, got %T", args[1])
	}
	return src.Variable(name)
}

func realize(args ...any) (any, error) {
	if err := arity("realize", args, 1); err != nil {
		return nil, err
	}
	if r, ok := args[0].(Realizer); ok {
		return r.Values()
	}
	return toMany(args[0])
}

func toOne(args ...any) (any, error) {
	if err := arity("toOne", args, 1); err != nil {
		return nil, err
	}
	list, ok := args[0].([]any)
	if !ok {
		if args[0] == nil {
			return nil, fmt.Errorf("toOne: no value")
		}
		return args[0], nil
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("toOne: expected one value, got %d", len(list))
	}
	return list[0], nil
}

func toMany(args ...any) (any, error) {
	if err := arity("toMany", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	default:
		return []any{v}, nil
	}
}

func isEmpty(args ...any) (any, error) {
	if err := arity("isEmpty", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return true, nil
	case []any:
		return len(v) == 0, nil
	default:
		return false, nil
	}
}

func coalesce(args ...any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func format(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("format expects a format string")
	}
	f, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("format: format must be a string, got %T", args[0])
	}
	return fmt.Sprintf(f, args[1:]...), nil
}

func jsonDecode(args ...any) (any, error) {
	if err := arity("jsonDecode", args, 1); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("jsonDecode: expected string, got %T", args[0])
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("jsonDecode: %w", err)
	}
	return v, nil
}

func jsonEncode(args ...any) (any, error) {
	if err := arity("jsonEncode", args, 1); err != nil {
		return nil, err
	}
	b, err := json.Marshal(args[0])
	if err != nil {
		return nil, fmt.Errorf("jsonEncode: %w", err)
	}
	return string(b), nil
}
