// Package inmemory executes in-memory store nodes over named datasets of
// JSON objects or values carried by the node. Each execution reads copies of
// the objects, so graph fetch joins never modify a dataset.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/hanpama/legend/internal/templating"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrUnknownDataset is returned for nodes naming a dataset that is not
// registered.
var ErrUnknownDataset = errors.New("inmemory: unknown dataset")

// Options configures a Store.
//
// Defaults:
//   - FilterCacheSize: 128 compiled filters
//   - Logger:          zap.NewNop()
type Options struct {
	FilterCacheSize int
	Logger          *zap.Logger
}

type Option func(*Options)

func WithFilterCacheSize(n int) Option { return func(o *Options) { o.FilterCacheSize = n } }
func WithLogger(l *zap.Logger) Option  { return func(o *Options) { o.Logger = l } }

// Store holds datasets by name.
type Store struct {
	log *zap.Logger

	mu       sync.RWMutex
	datasets map[string][]any

	filters *lru.Cache[string, *filter]
}

var _ executor.StoreFactory = (*Store)(nil)

// New returns an empty store.
func New(opts ...Option) *Store {
	o := &Options{FilterCacheSize: 128, Logger: zap.NewNop()}
	for _, f := range opts {
		f(o)
	}
	if o.FilterCacheSize <= 0 {
		o.FilterCacheSize = 128
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	filters, err := lru.New[string, *filter](o.FilterCacheSize)
	if err != nil {
		panic(err)
	}
	return &Store{log: o.Logger.Named("store.inmemory"), datasets: make(map[string][]any), filters: filters}
}

// Register adds or replaces a dataset.
func (s *Store) Register(name string, objects []any) {
	s.mu.Lock()
	s.datasets[name] = objects
	s.mu.Unlock()
}

// Load registers the JSON array in data as dataset name.
func (s *Store) Load(name string, data []byte) error {
	v, err := plan.DecodeJSON(data)
	if err != nil {
		return fmt.Errorf("inmemory: dataset %s: %w", name, err)
	}
	objects, ok := v.([]any)
	if !ok {
		return fmt.Errorf("inmemory: dataset %s: expected a JSON array, got %T", name, v)
	}
	s.Register(name, objects)
	s.log.Debug("dataset loaded", zap.String("dataset", name), zap.Int("objects", len(objects)))
	return nil
}

// LoadFiles loads datasets from JSON files keyed by dataset name.
func (s *Store) LoadFiles(files map[string]string) error {
	for name, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("inmemory: dataset %s: %w", name, err)
		}
		if err := s.Load(name, data); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered datasets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

func (s *Store) StoreType() string { return plan.TypeInMemory }

func (s *Store) NewStoreState(context.Context, any) (executor.StoreState, error) {
	return &storeState{store: s}, nil
}

func (s *Store) objects(n *plan.InMemoryNode) ([]any, error) {
	if n.Dataset == "" {
		return n.Values, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects, ok := s.datasets[n.Dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, n.Dataset)
	}
	return objects, nil
}

// filter is a compiled filter and the variables it reads.
type filter struct {
	program *vm.Program
	refs    templating.Refs
}

func (s *Store) filter(source string) (*filter, error) {
	if f, ok := s.filters.Get(source); ok {
		return f, nil
	}
	p, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("inmemory: filter: %w", err)
	}
	idents := identifiers{}
	node := p.Node()
	ast.Walk(&node, idents)
	f := &filter{program: p}
	for name := range idents {
		if name != "this" {
			f.refs.Names = append(f.refs.Names, name)
		}
	}
	s.filters.Add(source, f)
	return f, nil
}

type identifiers map[string]bool

func (ids identifiers) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		ids[id.Value] = true
	}
}

type storeState struct {
	store *Store
}

func (st *storeState) Execute(_ context.Context, node plan.StoreNode, state *executor.State) (result.Result, error) {
	n, ok := node.(*plan.InMemoryNode)
	if !ok {
		return nil, fmt.Errorf("inmemory: unexpected node %s", node.NodeType())
	}
	objects, err := st.store.objects(n)
	if err != nil {
		return nil, err
	}
	builder := result.Builder{Type: result.BuilderObject, Class: n.Class}
	if n.Filter == "" {
		return result.NewStreamingObject(cloned(objects, nil), builder, nil), nil
	}

	f, err := st.store.filter(n.Filter)
	if err != nil {
		return nil, err
	}
	env, err := state.TemplateData(f.refs)
	if err != nil {
		return nil, err
	}
	keep := func(obj any) (bool, error) {
		env["this"] = obj
		out, err := expr.Run(f.program, env)
		if err != nil {
			return false, fmt.Errorf("inmemory: filter: %w", err)
		}
		return out.(bool), nil
	}
	return result.NewStreamingObject(cloned(objects, keep), builder, nil), nil
}

// cloned streams deep copies of the objects accepted by keep.
func cloned(objects []any, keep func(any) (bool, error)) result.Seq {
	return func(yield func(any, error) bool) {
		for _, obj := range objects {
			if keep != nil {
				ok, err := keep(obj)
				if err != nil {
					yield(nil, err)
					return
				}
				if !ok {
					continue
				}
			}
			if !yield(clone(obj), nil) {
				return
			}
		}
	}
}

func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = clone(e)
		}
		return out
	default:
		return v
	}
}
