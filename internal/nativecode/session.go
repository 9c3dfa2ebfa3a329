package nativecode

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"
)

// Session holds the units compiled for one execution and loads them. It is
// safe for concurrent use; every unit is defined at most once.
type Session struct {
	compiler *Compiler

	mu      sync.Mutex
	units   map[string]*compiledUnit
	defined map[string]*Unit
}

type compiledUnit struct {
	src      Source
	buffer   *UnitBuffer
	programs map[string]*vm.Program
}

// FileManager returns the filtered view the session compiles against.
func (s *Session) FileManager() *FileManager {
	return &FileManager{lib: s.compiler.lib, filter: s.compiler.opts.Filter, units: s.unitSymbols}
}

// Compile compiles sources into the session. Sources already compiled under
// the same qualified name are skipped. Sources of one call may call each
// other.
func (s *Session) Compile(sources ...Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []Source
	seen := map[string]bool{}
	for _, src := range sources {
		if err := src.Validate(); err != nil {
			return err
		}
		q := src.QualifiedName()
		if _, done := s.units[q]; done || seen[q] {
			continue
		}
		seen[q] = true
		pending = append(pending, src)
	}
	if len(pending) == 0 {
		return nil
	}

	snapshot := s.symbolsLocked(pending)
	fm := &FileManager{
		lib:    s.compiler.lib,
		filter: s.compiler.opts.Filter,
		units:  func() []Symbol { return snapshot },
	}
	compiled := make([]*compiledUnit, 0, len(pending))
	for _, src := range pending {
		cu, err := s.compileOne(src, fm)
		if err != nil {
			return err
		}
		compiled = append(compiled, cu)
	}
	for _, cu := range compiled {
		s.units[cu.src.QualifiedName()] = cu
	}
	return nil
}

func (s *Session) compileOne(src Source, fm *FileManager) (*compiledUnit, error) {
	c := s.compiler
	var visible map[string]Symbol
	var check *FileManager
	if c.opts.Isolate {
		v, err := fm.resolve(src)
		if err != nil {
			return nil, &CompileError{Unit: src.QualifiedName(), Method: "*", Err: err}
		}
		visible, check = v, fm
	} else {
		visible = allSymbols(c.lib)
	}

	cu := &compiledUnit{src: src, buffer: NewUnitBuffer(src.QualifiedName()), programs: make(map[string]*vm.Program, len(src.Methods))}
	for _, m := range src.Methods {
		p, err := c.program(src.QualifiedName(), m, visible, check)
		if err != nil {
			return nil, err
		}
		cu.programs[m.Name] = p
	}
	if err := json.NewEncoder(cu.buffer).Encode(unitHeader(src)); err != nil {
		return nil, err
	}
	if err := cu.buffer.Close(); err != nil {
		return nil, err
	}
	c.opts.Logger.Debug("compiled unit", zap.String("unit", src.QualifiedName()), zap.Int("methods", len(src.Methods)))
	return cu, nil
}

// Load returns the named unit, defining it on first use. Units not compiled
// in the session are resolved by the parent loader.
func (s *Session) Load(name string) (*Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.defined[name]; ok {
		return u, nil
	}
	if cu, ok := s.units[name]; ok {
		u, err := s.define(cu)
		if err != nil {
			return nil, err
		}
		s.defined[name] = u
		return u, nil
	}
	if p := s.compiler.opts.Parent; p != nil {
		return p.Load(name)
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
}

// Units returns the qualified names of the compiled units.
func (s *Session) Units() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.units))
	for q := range s.units {
		out = append(out, q)
	}
	return out
}

func (s *Session) define(cu *compiledUnit) (*Unit, error) {
	data, err := cu.buffer.Bytes()
	if err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("nativecode: %s: corrupt unit: %w", cu.buffer.Name(), err)
	}
	u := &Unit{name: h.Name, implements: h.Implements, methods: make(map[string]*method, len(h.Methods)), env: s.bindUnits}
	for name, params := range h.Methods {
		p, ok := cu.programs[name]
		if !ok {
			return nil, fmt.Errorf("nativecode: %s: no program for method %q", h.Name, name)
		}
		u.methods[name] = &method{params: params, program: p}
	}
	return u, nil
}

// bindUnits adds a function for every method of every session unit.
func (s *Session) bindUnits(env map[string]any) {
	for _, sym := range s.unitSymbols() {
		unit, method := sym.unit, sym.method
		env[sym.Name] = func(args ...any) (any, error) {
			u, err := s.Load(unit)
			if err != nil {
				return nil, err
			}
			return u.Invoke(method, args...)
		}
	}
}

func (s *Session) unitSymbols() []Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbolsLocked(nil)
}

func (s *Session) symbolsLocked(extra []Source) []Symbol {
	var out []Symbol
	add := func(src Source) {
		for _, m := range src.Methods {
			out = append(out, Symbol{Package: src.Package, Name: unitFunc(src.Name, m.Name), unit: src.QualifiedName(), method: m.Name})
		}
	}
	for _, cu := range s.units {
		add(cu.src)
	}
	for _, src := range extra {
		add(src)
	}
	return out
}

// header is the encoded form of a unit kept in its buffer.
type header struct {
	Name       string              `json:"name"`
	Implements []string            `json:"implements,omitempty"`
	Methods    map[string][]string `json:"methods"`
}

func unitHeader(src Source) header {
	h := header{Name: src.QualifiedName(), Implements: src.Implements, Methods: make(map[string][]string, len(src.Methods))}
	for _, m := range src.Methods {
		h.Methods[m.Name] = m.Params
	}
	return h
}
