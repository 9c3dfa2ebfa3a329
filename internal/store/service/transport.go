package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/hanpama/legend/internal/reqid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Transport invokes unary service methods with structpb.Struct requests and
// responses over pooled connections.
type Transport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // by endpoint
	closed atomic.Bool
}

// NewTransport returns a transport configured by opts.
func NewTransport(opts *Options) *Transport {
	if len(opts.DialOptions) == 0 {
		opts.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{opts: opts, pools: make(map[string]*connPool)}
}

// Endpoint picks one of the addresses serving service.
func (t *Transport) Endpoint(ctx context.Context, service string) (string, error) {
	if t.closed.Load() {
		return "", ErrClosed
	}
	if t.opts.Provider == nil {
		return "", fmt.Errorf("service: provider not configured")
	}
	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return "", err
	}
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	return endpoints[rand.Intn(len(endpoints))], nil
}

// Invoke calls /service/method on endpoint with req. md is appended to the
// outgoing metadata as key/value pairs, after the service name and the
// request id of ctx.
func (t *Transport) Invoke(ctx context.Context, endpoint, service, method string, req *structpb.Struct, md ...string) (*structpb.Struct, error) {
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	kv := append([]string{"x-legend-service", service}, md...)
	if rid, ok := reqid.FromContext(ctx); ok {
		kv = append(kv, "x-request-id", rid)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, kv...)

	cc, err := t.conn(endpoint)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes every pooled connection.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, p := range t.pools {
		errs = append(errs, p.close())
	}
	t.pools = map[string]*connPool{}
	return errors.Join(errs...)
}

func (t *Transport) conn(endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		if t.closed.Load() {
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if pool = t.pools[endpoint]; pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.next()
}

// connPool spreads calls to one endpoint over up to MaxConnsPerEndpoint
// connections, dialed on first use and reused round robin.
type connPool struct {
	endpoint string
	dial     []grpc.DialOption

	mu     sync.Mutex
	conns  []*grpc.ClientConn
	size   int
	n      uint64
	closed bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	size := opts.MaxConnsPerEndpoint
	if size <= 0 {
		size = 2
	}
	return &connPool{endpoint: endpoint, dial: opts.DialOptions, size: size}
}

func (p *connPool) next() (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	i := int(p.n % uint64(p.size))
	p.n++
	if i < len(p.conns) {
		return p.conns[i], nil
	}
	cc, err := grpc.NewClient(p.endpoint, p.dial...)
	if err != nil {
		return nil, fmt.Errorf("service: dial %s: %w", p.endpoint, err)
	}
	p.conns = append(p.conns, cc)
	return cc, nil
}

func (p *connPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for _, cc := range p.conns {
		errs = append(errs, cc.Close())
	}
	p.conns = nil
	return errors.Join(errs...)
}
