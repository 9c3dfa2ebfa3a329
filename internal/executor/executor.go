package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/events"
	"github.com/hanpama/legend/internal/metrics"
	"github.com/hanpama/legend/internal/nativecode"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"github.com/hanpama/legend/internal/templating"
	"github.com/hanpama/legend/internal/validation"
	"go.uber.org/zap"
)

// Defaults of graph fetch batching.
const (
	DefaultBatchSize   = 1000
	DefaultMemoryLimit = 50 << 20
)

// Options configures an Executor.
//
// Defaults:
//   - BatchSize:   1000 objects, when a graph fetch node does not set one
//   - MemoryLimit: 50 MiB estimated per graph fetch batch
//   - Logger:      zap.NewNop()
type Options struct {
	Stores        []StoreFactory
	Compiler      *nativecode.Compiler
	Metrics       *metrics.Registry
	Logger        *zap.Logger
	Validator     *validation.Validator
	Templates     *templating.Engine
	BatchSize     int
	MemoryLimit   int64
	Realize       bool
	NodeHooks     []NodeExecutorFunc
	SequenceHooks []NodeExecutorFunc
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:      zap.NewNop(),
		BatchSize:   DefaultBatchSize,
		MemoryLimit: DefaultMemoryLimit,
	}
}

func WithStore(f StoreFactory) Option              { return func(o *Options) { o.Stores = append(o.Stores, f) } }
func WithCompiler(c *nativecode.Compiler) Option   { return func(o *Options) { o.Compiler = c } }
func WithMetrics(m *metrics.Registry) Option       { return func(o *Options) { o.Metrics = m } }
func WithLogger(l *zap.Logger) Option              { return func(o *Options) { o.Logger = l } }
func WithValidator(v *validation.Validator) Option { return func(o *Options) { o.Validator = v } }
func WithTemplates(t *templating.Engine) Option    { return func(o *Options) { o.Templates = t } }
func WithBatchSize(n int) Option                   { return func(o *Options) { o.BatchSize = n } }
func WithMemoryLimit(n int64) Option               { return func(o *Options) { o.MemoryLimit = n } }
func WithRealizeAllocations(on bool) Option        { return func(o *Options) { o.Realize = on } }
func WithNodeHook(h NodeExecutorFunc) Option       { return func(o *Options) { o.NodeHooks = append(o.NodeHooks, h) } }
func WithSequenceHook(h NodeExecutorFunc) Option   { return func(o *Options) { o.SequenceHooks = append(o.SequenceHooks, h) } }

// Executor dispatches execution nodes. It is safe for concurrent use by
// independent executions; each execution gets its own State.
type Executor struct {
	opts   *Options
	stores map[string]StoreFactory
	log    *zap.Logger
}

// New returns an executor.
func New(opts ...Option) *Executor {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Validator == nil {
		o.Validator = validation.New()
	}
	if o.Templates == nil {
		o.Templates = templating.New(0)
	}
	e := &Executor{opts: o, stores: make(map[string]StoreFactory, len(o.Stores)), log: o.Logger.Named("executor")}
	for _, s := range o.Stores {
		e.stores[s.StoreType()] = s
	}
	return e
}

// NewState returns an empty state for identity carrying the hooks of the
// executor.
func (e *Executor) NewState(identity any, opts ...StateOption) *State {
	s := &State{
		bindings:        make(map[string]result.Result),
		realized:        make(map[result.Result]result.Result),
		identity:        identity,
		stores:          &storeStates{states: make(map[string]StoreState)},
		nodeHooks:       append([]NodeExecutorFunc(nil), e.opts.NodeHooks...),
		sequenceHooks:   append([]NodeExecutorFunc(nil), e.opts.SequenceHooks...),
		realizeInMemory: e.opts.Realize,
	}
	for _, f := range opts {
		f(s)
	}
	return s
}

// ExecutePlan binds params, compiles the units carried by p and executes
// its root node for identity. On failure every result bound during the
// traversal is closed; on success the bound results the returned result
// does not hold are closed with it.
func (e *Executor) ExecutePlan(ctx context.Context, p *plan.SingleExecutionPlan, params map[string]any, identity any) (result.Result, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.ExecutionStart{Parameters: len(params), Units: len(p.Units)})

	r, err := e.executePlan(ctx, p, params, identity)

	e.opts.Metrics.ObservePlan(start, err)
	eventbus.Publish(ctx, events.ExecutionFinish{Err: err, Duration: time.Since(start)})
	if err != nil {
		category := e.opts.Metrics.Error(err)
		e.log.Warn("plan execution failed", zap.String("category", string(category)), zap.Error(err))
		return nil, err
	}
	return r, nil
}

func (e *Executor) executePlan(ctx context.Context, p *plan.SingleExecutionPlan, params map[string]any, identity any) (result.Result, error) {
	state := e.NewState(identity, WithTemplateFunctions(p.TemplateFunctions))
	if c := e.opts.Compiler; c != nil {
		sess := c.NewSession()
		if err := sess.Compile(p.Units...); err != nil {
			return nil, &PlatformError{Class: "globalImplementationSupport", Err: err}
		}
		state.session = sess
	}
	for name, v := range params {
		state.Bind(name, v)
	}
	r, err := e.Execute(ctx, p.Root, state)
	if err != nil {
		if cerr := state.Close(); cerr != nil {
			e.log.Debug("close bindings", zap.Error(cerr))
		}
		return nil, err
	}
	r, err = state.attach(r)
	if err != nil {
		e.log.Debug("close bindings", zap.Error(err))
	}
	return r, nil
}

// Execute dispatches node against state and returns its result.
func (e *Executor) Execute(ctx context.Context, node plan.Node, state *State) (result.Result, error) {
	if node == nil {
		return nil, fmt.Errorf("executor: nil execution node")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.opts.Metrics.Node(node.NodeType())
	if ce := e.log.Check(zap.DebugLevel, "execute node"); ce != nil {
		ce.Write(zap.String("type", node.NodeType()))
	}

	switch n := node.(type) {
	case *plan.ConstantNode:
		return e.executeConstant(n, state)
	case *plan.ErrorNode:
		return e.executeError(ctx, n, state)
	case *plan.SequenceNode:
		return e.executeSequence(ctx, n, state)
	case *plan.MultiResultSequenceNode:
		return e.executeMultiResultSequence(ctx, n, state)
	case *plan.AllocationNode:
		return e.executeAllocation(ctx, n, state)
	case *plan.ConditionalNode:
		return e.executeConditional(ctx, n, state)
	case *plan.FunctionParametersValidationNode:
		return e.executeParameterValidation(n, state)
	case *plan.PlatformNode:
		return e.executePlatform(ctx, n, state)
	case *plan.GraphFetchNode:
		return e.executeGraphFetch(ctx, n, state)
	case *plan.LocalGraphFetchNode:
		if state.graph == nil || state.cursor == nil {
			return nil, fmt.Errorf("%w: %s node outside of a graph fetch", ErrNotImplemented, n.NodeType())
		}
		return e.executeLocalGraphFetch(n, state)
	case *plan.GlobalGraphFetchNode:
		if state.graph == nil {
			return nil, fmt.Errorf("%w: %s node outside of a graph fetch", ErrNotImplemented, n.NodeType())
		}
		return e.executeGlobalGraphFetch(ctx, n, state)
	case plan.StoreNode:
		return e.executeStore(ctx, n, state)
	}
	return e.executeExtension(ctx, node, state)
}

func (e *Executor) executeExtension(ctx context.Context, node plan.Node, state *State) (result.Result, error) {
	for _, h := range state.nodeHooks {
		r, err := h(ctx, node, state)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, &UnsupportedNodeError{Type: node.NodeType()}
}

func (e *Executor) executeStore(ctx context.Context, n plan.StoreNode, state *State) (result.Result, error) {
	f, ok := e.stores[n.StoreType()]
	if !ok {
		return e.executeExtension(ctx, n, state)
	}
	st, err := state.storeState(ctx, f)
	if err != nil {
		return nil, &StoreError{StoreType: n.StoreType(), Err: err}
	}
	r, err := st.Execute(ctx, n, state)
	if err != nil {
		return nil, &StoreError{StoreType: n.StoreType(), Err: err}
	}
	return r, nil
}

func closeResult(r result.Result) {
	if r != nil {
		_ = r.Close()
	}
}
