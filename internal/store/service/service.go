// Package service executes service store nodes as unary gRPC calls. The
// request is a struct of the node parameters read from the executing state;
// the objects of the response field named by Options.ValuesField are
// streamed as the result.
package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/events"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/result"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Store is the service store.
type Store struct {
	opts      *Options
	log       *zap.Logger
	transport *Transport
}

var _ executor.StoreFactory = (*Store)(nil)

// New returns a service store.
func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ValuesField == "" {
		o.ValuesField = "values"
	}
	return &Store{opts: o, log: o.Logger.Named("store.service"), transport: NewTransport(o)}
}

func (s *Store) StoreType() string { return plan.TypeService }

func (s *Store) NewStoreState(_ context.Context, identity any) (executor.StoreState, error) {
	st := &storeState{store: s}
	if user, ok := identity.(string); ok {
		st.user = user
	}
	return st, nil
}

// Close releases the connections of the store.
func (s *Store) Close() error { return s.transport.Close() }

type storeState struct {
	store *Store
	user  string
}

func (st *storeState) Execute(ctx context.Context, node plan.StoreNode, state *executor.State) (result.Result, error) {
	n, ok := node.(*plan.ServiceNode)
	if !ok {
		return nil, fmt.Errorf("service: unexpected node %s", node.NodeType())
	}
	fields := make(map[string]any, len(n.Parameters))
	for _, name := range n.Parameters {
		v, err := state.Variable(name)
		if err != nil {
			return nil, err
		}
		fields[name] = protoValue(v)
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("service: request: %w", err)
	}

	var md []string
	if st.user != "" {
		md = append(md, "x-legend-user", st.user)
	}
	t := st.store.transport
	endpoint, err := t.Endpoint(ctx, n.Service)
	if err != nil {
		return nil, fmt.Errorf("service: %s: %w", n.Service, err)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.ServiceCallStart{
		Service:    n.Service,
		Method:     n.Method,
		Endpoint:   endpoint,
		Parameters: n.Parameters,
		User:       st.user,
	})
	resp, err := t.Invoke(ctx, endpoint, n.Service, n.Method, req, md...)
	var objects []any
	if err == nil {
		objects = st.store.objects(resp)
	}
	eventbus.Publish(ctx, events.ServiceCallFinish{
		Service:  n.Service,
		Method:   n.Method,
		Endpoint: endpoint,
		Code:     status.Code(err),
		Objects:  len(objects),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("service: %s/%s: %w", n.Service, n.Method, err)
	}
	st.store.log.Debug("call", zap.String("service", n.Service), zap.String("method", n.Method), zap.String("endpoint", endpoint), zap.Int("objects", len(objects)))
	return result.FromValues(objects, result.Builder{Type: result.BuilderObject}), nil
}

// objects returns the objects of the values field of resp, or resp itself
// when the field is absent.
func (s *Store) objects(resp *structpb.Struct) []any {
	out := resp.AsMap()
	if v, ok := out[s.opts.ValuesField]; ok {
		objects, _ := v.([]any)
		return objects
	}
	if len(out) > 0 {
		return []any{out}
	}
	return nil
}

// protoValue converts v into a value structpb accepts.
func protoValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *big.Float:
		// Decimals travel as text to keep their precision.
		return x.Text('f', -1)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = protoValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = protoValue(e)
		}
		return out
	default:
		return v
	}
}
