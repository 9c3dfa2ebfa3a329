package nativecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Compilation outcomes reported to Options.Observer.
const (
	OutcomeCompiled = "compiled"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
)

// Options configures a Compiler.
//
// Defaults:
//   - Filter:    All
//   - Isolate:   true
//   - CacheSize: 512 programs
type Options struct {
	// Filter restricts the library symbols visible to isolated compilation.
	Filter Filter
	// Isolate resolves each unit against its imports through the filtered
	// FileManager. When false, units compile against the whole library.
	Isolate bool
	// CacheSize bounds the number of compiled method programs kept.
	CacheSize int
	// Parent resolves units not compiled in a session.
	Parent Loader

	Logger   *zap.Logger
	Observer func(outcome string)
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Filter:    All(),
		Isolate:   true,
		CacheSize: 512,
		Logger:    zap.NewNop(),
	}
}

func WithFilter(f Filter) Option         { return func(o *Options) { o.Filter = f } }
func WithIsolation(on bool) Option       { return func(o *Options) { o.Isolate = on } }
func WithCacheSize(n int) Option         { return func(o *Options) { o.CacheSize = n } }
func WithParent(l Loader) Option         { return func(o *Options) { o.Parent = l } }
func WithLogger(l *zap.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithObserver(f func(string)) Option { return func(o *Options) { o.Observer = f } }

// Compiler is the process-wide compiler shared by sessions. Compiled method
// programs are cached and identical concurrent compilations are performed
// once.
type Compiler struct {
	lib   *Library
	opts  *Options
	cache *lru.Cache[string, *vm.Program]
	group singleflight.Group
}

// NewCompiler returns a compiler over lib.
func NewCompiler(lib *Library, opts ...Option) (*Compiler, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 512
	}
	if o.Filter == nil {
		o.Filter = All()
	}
	cache, err := lru.New[string, *vm.Program](o.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("nativecode: %w", err)
	}
	return &Compiler{lib: lib, opts: o, cache: cache}, nil
}

// Library returns the library units compile against.
func (c *Compiler) Library() *Library { return c.lib }

// NewSession returns an empty session.
func (c *Compiler) NewSession() *Session {
	return &Session{
		compiler: c,
		units:    make(map[string]*compiledUnit),
		defined:  make(map[string]*Unit),
	}
}

func (c *Compiler) observe(outcome string) {
	if c.opts.Observer != nil {
		c.opts.Observer(outcome)
	}
}

// program compiles one method body against visible, consulting the cache.
// When fm is set, calls of library symbols outside visible are rejected.
func (c *Compiler) program(unit string, m Method, visible map[string]Symbol, fm *FileManager) (*vm.Program, error) {
	key := cacheKey(m.Body, visible, fm != nil)
	if p, ok := c.cache.Get(key); ok {
		c.observe(OutcomeCached)
		return p, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.cache.Get(key); ok {
			return p, nil
		}
		p, calls, err := compileMethod(unit, m, visible)
		if err != nil {
			return nil, err
		}
		if fm != nil {
			if hidden := fm.unresolvedCalls(calls, visible); len(hidden) > 0 {
				return nil, &CompileError{Unit: unit, Method: m.Name, Err: fmt.Errorf("symbols not visible: %s", strings.Join(hidden, ", "))}
			}
		}
		c.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		c.observe(OutcomeFailed)
		c.opts.Logger.Debug("compile failed", zap.String("unit", unit), zap.String("method", m.Name), zap.Error(err))
		return nil, err
	}
	c.observe(OutcomeCompiled)
	return v.(*vm.Program), nil
}

// CompileUnit compiles a single self-contained source against every symbol
// of lib, without import resolution or filtering. It returns the program of
// each method by name.
func CompileUnit(src Source, lib *Library) (map[string]*vm.Program, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	visible := allSymbols(lib)
	out := make(map[string]*vm.Program, len(src.Methods))
	for _, m := range src.Methods {
		p, _, err := compileMethod(src.QualifiedName(), m, visible)
		if err != nil {
			return nil, err
		}
		out[m.Name] = p
	}
	return out, nil
}

func compileMethod(unit string, m Method, visible map[string]Symbol) (*vm.Program, []string, error) {
	calls := &callCollector{}
	opts := []expr.Option{expr.AllowUndefinedVariables(), expr.Patch(calls)}
	for _, s := range sortedSymbols(visible) {
		if s.Fn != nil {
			opts = append(opts, expr.Function(s.Name, s.Fn))
		}
	}
	p, err := expr.Compile(m.Body, opts...)
	if err != nil {
		return nil, nil, &CompileError{Unit: unit, Method: m.Name, Err: err}
	}
	return p, calls.names, nil
}

// callCollector records the names of functions called by identifier.
type callCollector struct {
	names []string
}

func (c *callCollector) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	if id, ok := call.Callee.(*ast.IdentifierNode); ok {
		c.names = append(c.names, id.Value)
	}
}

func sortedSymbols(m map[string]Symbol) []Symbol {
	out := make([]Symbol, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func cacheKey(body string, visible map[string]Symbol, isolated bool) string {
	h := sha256.New()
	h.Write([]byte(body))
	if isolated {
		h.Write([]byte{1})
	}
	for _, s := range sortedSymbols(visible) {
		if s.Fn == nil {
			continue
		}
		h.Write([]byte{0})
		h.Write([]byte(s.QualifiedName()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
