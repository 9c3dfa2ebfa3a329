package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hanpama/legend/internal/nativecode"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/hanpama/legend/internal/templating"
)

// NodeExecutorFunc is a hook offered nodes before or instead of default
// dispatch. A nil result means the hook does not handle the node.
type NodeExecutorFunc func(ctx context.Context, node plan.Node, state *State) (result.Result, error)

// State is the mutable context of one traversal: variable bindings, the
// identity executing the plan, lazily created store states and hooks.
//
// Forks share bindings unless stated otherwise. A State must not be used
// concurrently.
type State struct {
	bindings map[string]result.Result
	realized map[result.Result]result.Result
	identity any

	stores *storeStates

	nodeHooks     []NodeExecutorFunc
	sequenceHooks []NodeExecutorFunc

	realizeInMemory   bool
	inAllocation      bool
	allocation        string
	templateFunctions []string
	session           *nativecode.Session

	graph  *GraphExecutionState
	cursor *cursor
}

type storeStates struct {
	mu     sync.Mutex
	states map[string]StoreState
}

// StateOption configures a State created by Executor.NewState.
type StateOption func(*State)

// WithTemplateFunctions sets the template function definitions available
// to templates rendered during the traversal.
func WithTemplateFunctions(fns []string) StateOption {
	return func(s *State) { s.templateFunctions = fns }
}

// WithSession sets the native code session platform nodes load units from.
func WithSession(sess *nativecode.Session) StateOption {
	return func(s *State) { s.session = sess }
}

// WithRealizeInMemory makes allocations realize their results eagerly.
func WithRealizeInMemory(on bool) StateOption {
	return func(s *State) { s.realizeInMemory = on }
}

// WithNodeExecutors appends hooks for node kinds the executor does not know.
func WithNodeExecutors(hooks ...NodeExecutorFunc) StateOption {
	return func(s *State) { s.nodeHooks = append(s.nodeHooks, hooks...) }
}

// WithSequenceNodeExecutors appends hooks offered each sequence child.
func WithSequenceNodeExecutors(hooks ...NodeExecutorFunc) StateOption {
	return func(s *State) { s.sequenceHooks = append(s.sequenceHooks, hooks...) }
}

// Identity returns the opaque identity the plan is executed for.
func (s *State) Identity() any { return s.identity }

// TemplateFunctions returns the template function definitions of the plan.
func (s *State) TemplateFunctions() []string { return s.templateFunctions }

// InAllocation reports whether the state executes the child of an
// allocation, and the variable being allocated.
func (s *State) InAllocation() (string, bool) { return s.allocation, s.inAllocation }

// Graph returns the graph fetch batch the state executes in, or nil.
func (s *State) Graph() *GraphExecutionState { return s.graph }

// Bind binds name to v. Results are bound as they are; any other value is
// bound as a constant.
func (s *State) Bind(name string, v any) {
	if r, ok := v.(result.Result); ok {
		s.bindings[name] = r
		return
	}
	s.bindings[name] = &result.Constant{Value: v}
}

// Result returns the result bound to name. A binding that was realized by
// an earlier read is returned in its realized form.
func (s *State) Result(name string) (result.Result, bool) {
	r, ok := s.bindings[name]
	if !ok {
		return nil, false
	}
	if got, ok := s.realized[r]; ok {
		return got, true
	}
	return r, true
}

// Lookup returns the raw bound value of name: the value of a constant or the
// bound result itself. Nothing is realized.
func (s *State) Lookup(name string) (any, bool) {
	r, ok := s.Result(name)
	if !ok {
		return nil, false
	}
	if c, ok := r.(*result.Constant); ok {
		return c.Value, true
	}
	return r, true
}

// Variable returns the realized value bound to name. A streamed binding is
// realized on first read and the realized form is shared with every fork,
// so the binding can be read again.
func (s *State) Variable(name string) (any, error) {
	r, ok := s.bindings[name]
	if !ok {
		return nil, fmt.Errorf("executor: variable %q is not bound", name)
	}
	realized, err := s.realize(r)
	if err != nil {
		return nil, fmt.Errorf("executor: variable %q: %w", name, err)
	}
	return result.Value(realized)
}

func (s *State) realize(r result.Result) (result.Result, error) {
	if got, ok := s.realized[r]; ok {
		return got, nil
	}
	var out result.Result
	switch v := r.(type) {
	case *result.Error:
		return r, nil
	case *result.Constant:
		if _, lazy := v.Value.(result.Seq); !lazy {
			return r, nil
		}
		got, err := result.Realize(v)
		if err != nil {
			return nil, err
		}
		out = got
	case *result.Multi:
		m := &result.Multi{Results: make(map[string]result.Result, len(v.Results))}
		for _, name := range v.Names() {
			got, err := s.realize(v.Results[name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			m.Results[name] = got
		}
		out = m
	default:
		got, err := result.Realize(r)
		if err != nil {
			return nil, err
		}
		out = got
	}
	s.realized[r] = out
	return out, nil
}

// Names returns the bound variable names, sorted.
func (s *State) Names() []string {
	out := make([]string, 0, len(s.bindings))
	for name := range s.bindings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TemplateData returns the realized values of the bindings refs names.
// Bindings a template cannot read stay as they are.
func (s *State) TemplateData(refs templating.Refs) (map[string]any, error) {
	names := refs.Names
	if refs.All {
		names = s.Names()
	}
	data := make(map[string]any, len(names))
	for _, name := range names {
		if _, ok := s.bindings[name]; !ok {
			continue
		}
		v, err := s.Variable(name)
		if err != nil {
			return nil, err
		}
		data[name] = v
	}
	return data, nil
}

// Close closes every distinct bound result.
func (s *State) Close() error {
	seen := map[result.Result]bool{}
	var errs []error
	for _, name := range s.Names() {
		r := s.bindings[name]
		if r == nil || seen[r] {
			continue
		}
		seen[r] = true
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// held returns every result reachable from the bindings of s, in bound and
// realized form.
func (s *State) held() map[result.Result]bool {
	set := map[result.Result]bool{}
	for _, r := range s.bindings {
		reach(r, set)
		if got, ok := s.realized[r]; ok {
			reach(got, set)
		}
	}
	return set
}

// drop closes the parts of r that no binding still holds.
func (s *State) drop(r result.Result) {
	_ = release(r, s.held())
}

// attach ties the close of the bindings r does not hold to the close of r.
// Results that cannot carry a close hook release the bindings right away.
func (s *State) attach(r result.Result) (result.Result, error) {
	keep := map[result.Result]bool{}
	reach(r, keep)
	var rest []result.Result
	seen := map[result.Result]bool{}
	for _, name := range s.Names() {
		b := s.bindings[name]
		if seen[b] || keep[b] || !closable(b) {
			continue
		}
		if _, realized := s.realized[b]; realized {
			continue
		}
		seen[b] = true
		rest = append(rest, b)
	}
	if len(rest) == 0 {
		return r, nil
	}
	closeRest := func() error {
		var errs []error
		for _, b := range rest {
			errs = append(errs, release(b, keep))
		}
		return errors.Join(errs...)
	}
	switch v := r.(type) {
	case *result.StreamingObject:
		return result.NewStreamingObject(v.Objects(), v.Builder(), v, closeRest), nil
	case *result.Multi:
		v.OnClose(closeRest)
		return v, nil
	default:
		return r, closeRest()
	}
}

func closable(r result.Result) bool {
	switch r.(type) {
	case nil, *result.Constant, *result.Error:
		return false
	}
	return true
}

// reach adds r and every result closing r closes to set.
func reach(r result.Result, set map[result.Result]bool) {
	for r != nil && !set[r] {
		set[r] = true
		switch v := r.(type) {
		case *result.Multi:
			for _, sub := range v.Results {
				reach(sub, set)
			}
			return
		case *result.StreamingObject:
			r = v.Upstream()
		default:
			return
		}
	}
}

// release closes r unless closing it would close a result in keep. A multi
// result sharing parts with keep has its other parts released.
func release(r result.Result, keep map[result.Result]bool) error {
	if r == nil || keep[r] {
		return nil
	}
	parts := map[result.Result]bool{}
	reach(r, parts)
	shared := false
	for p := range parts {
		if keep[p] {
			shared = true
			break
		}
	}
	if !shared {
		return r.Close()
	}
	m, ok := r.(*result.Multi)
	if !ok {
		return nil
	}
	var errs []error
	for _, name := range m.Names() {
		errs = append(errs, release(m.Results[name], keep))
	}
	return errors.Join(errs...)
}

func (s *State) lookupValue(name string) (any, bool, error) {
	if _, ok := s.bindings[name]; !ok {
		return nil, false, nil
	}
	v, err := s.Variable(name)
	return v, err == nil, err
}

// fork returns a state sharing the bindings of s. With isolated set the
// bindings are copied instead.
func (s *State) fork(isolated bool) *State {
	f := *s
	if isolated {
		f.bindings = make(map[string]result.Result, len(s.bindings))
		for k, v := range s.bindings {
			f.bindings[k] = v
		}
	}
	return &f
}

func (s *State) storeState(ctx context.Context, f StoreFactory) (StoreState, error) {
	s.stores.mu.Lock()
	defer s.stores.mu.Unlock()
	if st, ok := s.stores.states[f.StoreType()]; ok {
		return st, nil
	}
	st, err := f.NewStoreState(ctx, s.identity)
	if err != nil {
		return nil, err
	}
	s.stores.states[f.StoreType()] = st
	return st, nil
}

// GraphExecutionState is the state of one graph fetch batch: its object
// budget, estimated memory use and the objects materialized per node index.
type GraphExecutionState struct {
	BatchSize   int
	MemoryLimit int64

	memory  int64
	rows    int
	objects map[int][]any
}

func newGraphExecutionState(batchSize int, memoryLimit int64) *GraphExecutionState {
	return &GraphExecutionState{BatchSize: batchSize, MemoryLimit: memoryLimit, objects: make(map[int][]any)}
}

// Objects returns the objects materialized by the local node of index.
func (g *GraphExecutionState) Objects(index int) []any { return g.objects[index] }

// Memory returns the estimated memory used by the batch, in bytes.
func (g *GraphExecutionState) Memory() int64 { return g.memory }

// Rows returns the number of root objects of the batch.
func (g *GraphExecutionState) Rows() int { return g.rows }

// track adds the estimated size of obj to the batch.
func (g *GraphExecutionState) track(obj any) error {
	g.memory += estimateSize(obj)
	if g.MemoryLimit > 0 && g.memory > g.MemoryLimit {
		return &LimitError{Limit: g.MemoryLimit, Used: g.memory}
	}
	return nil
}

// cursor is the stream a local graph fetch node materializes objects from.
// A zero limit reads the stream to its end. Objects read from the root cursor
// count as rows of the batch.
type cursor struct {
	next  func() (any, error, bool)
	limit int
	root  bool
}
