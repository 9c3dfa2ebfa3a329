package executor

import (
	"context"
	"sync"

	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
)

// MockHandler answers one store node in tests.
type MockHandler func(ctx context.Context, node plan.StoreNode, state *State) (result.Result, error)

// NewMockValuesHandler returns a MockHandler streaming values.
func NewMockValuesHandler(values ...any) MockHandler {
	return func(context.Context, plan.StoreNode, *State) (result.Result, error) {
		return result.FromValues(values, result.Builder{Type: result.BuilderObject}), nil
	}
}

// NewMockErrorHandler returns a MockHandler that always fails with err.
func NewMockErrorHandler(err error) MockHandler {
	return func(context.Context, plan.StoreNode, *State) (result.Result, error) {
		return nil, err
	}
}

// Store call kinds recorded by MockStore.
const (
	CallKindNewState = "newState"
	CallKindExecute  = "execute"
)

// StoreCall is one recorded MockStore invocation.
type StoreCall struct {
	Kind     string
	Identity any
	Node     plan.StoreNode
	// Bindings holds the raw bound values visible to the node. Streams are
	// recorded unread.
	Bindings map[string]any
}

// MockStore implements StoreFactory with handlers keyed by a node key and a
// single call log. Node keys are the SQL of relational nodes, the dataset of
// in-memory nodes and "service.method" of service nodes.
type MockStore struct {
	storeType string

	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []StoreCall
}

// NewMockStore returns a MockStore for storeType.
func NewMockStore(storeType string, handlers map[string]MockHandler) *MockStore {
	m := &MockStore{storeType: storeType, handlers: make(map[string]MockHandler)}
	for k, h := range handlers {
		m.handlers[k] = h
	}
	return m
}

// SetHandler registers or replaces the handler of key.
func (m *MockStore) SetHandler(key string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = h
}

func (m *MockStore) StoreType() string { return m.storeType }

func (m *MockStore) NewStoreState(_ context.Context, identity any) (StoreState, error) {
	m.record(StoreCall{Kind: CallKindNewState, Identity: identity})
	return &mockStoreState{store: m, identity: identity}, nil
}

// GetCalls returns a copy of the recorded calls in order.
func (m *MockStore) GetCalls() []StoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoreCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls (handlers remain).
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockStore) record(c StoreCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

type mockStoreState struct {
	store    *MockStore
	identity any
}

func (s *mockStoreState) Execute(ctx context.Context, node plan.StoreNode, state *State) (result.Result, error) {
	data := make(map[string]any)
	for _, name := range state.Names() {
		data[name], _ = state.Lookup(name)
	}
	s.store.record(StoreCall{Kind: CallKindExecute, Identity: s.identity, Node: node, Bindings: data})

	key := mockKey(node)
	s.store.mu.Lock()
	h := s.store.handlers[key]
	s.store.mu.Unlock()
	if h == nil {
		return result.FromValues(nil, result.Builder{Type: result.BuilderObject}), nil
	}
	return h(ctx, node, state)
}

func mockKey(node plan.StoreNode) string {
	switch n := node.(type) {
	case *plan.RelationalNode:
		return n.SQL
	case *plan.InMemoryNode:
		return n.Dataset
	case *plan.ServiceNode:
		return n.Service + "." + n.Method
	}
	return node.NodeType()
}
