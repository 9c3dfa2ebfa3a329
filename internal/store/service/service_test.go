package service

import (
	"context"
	"math/big"
	"net"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/events"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/plan"
	"github.com/hanpama/legend/internal/reqid"
	"github.com/hanpama/legend/internal/result"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const firmService = "legend.test.FirmService"

// firmServer records requests and answers with the firms whose id is in the
// "ids" request field.
type firmServer struct {
	mu       sync.Mutex
	requests []map[string]any
	users    []string
	rids     []string
}

func (f *firmServer) list(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req.AsMap())
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.users = append(f.users, md.Get("x-legend-user")...)
		f.rids = append(f.rids, md.Get("x-request-id")...)
	}
	f.mu.Unlock()

	all := map[float64]string{1: "acme", 2: "globex"}
	var values []any
	ids, _ := req.AsMap()["ids"].([]any)
	for _, id := range ids {
		if name, ok := all[id.(float64)]; ok {
			values = append(values, map[string]any{"id": id, "name": name})
		}
	}
	return structpb.NewStruct(map[string]any{"values": values})
}

func methodHandler(fn func(context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

func startServer(t *testing.T) (*firmServer, *Store) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fs := &firmServer{}
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: firmService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "List", Handler: methodHandler(fs.list)},
			{MethodName: "Fail", Handler: methodHandler(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(codes.PermissionDenied, "denied")
			})},
		},
	}, fs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	s := New(
		WithProvider(NewStaticEndpoints(map[string][]string{firmService: {"passthrough:///bufnet"}})),
		WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return fs, s
}

func TestExecute(t *testing.T) {
	var finished []events.ServiceCallFinish
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	eventbus.On(bus, func(_ context.Context, e events.ServiceCallFinish) { finished = append(finished, e) })

	fs, s := startServer(t)
	e := executor.New(executor.WithStore(s))
	state := e.NewState("alice")
	state.Bind("ids", []any{1, 2, 3})

	ctx, _ := reqid.NewContext(context.Background(), "r1")
	r, err := e.Execute(ctx, &plan.ServiceNode{Service: firmService, Method: "List", Parameters: []string{"ids"}}, state)
	require.NoError(t, err)
	got, err := result.Value(r)
	require.NoError(t, err)

	want := []any{
		map[string]any{"id": 1.0, "name": "acme"},
		map[string]any{"id": 2.0, "name": "globex"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("objects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]map[string]any{{"ids": []any{1.0, 2.0, 3.0}}}, fs.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"alice"}, fs.users)
	require.Equal(t, []string{"r1"}, fs.rids)
	require.Len(t, finished, 1)
	require.NoError(t, finished[0].Err)
	finished[0].Duration = 0
	wantCall := events.ServiceCallFinish{Service: firmService, Method: "List", Endpoint: "passthrough:///bufnet", Code: codes.OK, Objects: 2}
	if diff := cmp.Diff(wantCall, finished[0]); diff != "" {
		t.Errorf("call mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Errors(t *testing.T) {
	_, s := startServer(t)
	e := executor.New(executor.WithStore(s))

	_, err := e.Execute(context.Background(), &plan.ServiceNode{Service: firmService, Method: "Fail"}, e.NewState(nil))
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	var serr *executor.StoreError
	require.ErrorAs(t, err, &serr)

	_, err = e.Execute(context.Background(), &plan.ServiceNode{Service: "legend.test.Other", Method: "List"}, e.NewState(nil))
	require.ErrorIs(t, err, ErrNoEndpoints)

	_, err = e.Execute(context.Background(), &plan.ServiceNode{Service: firmService, Method: "List", Parameters: []string{"unbound"}}, e.NewState(nil))
	require.ErrorContains(t, err, "unbound")

	require.NoError(t, s.Close())
	_, err = e.Execute(context.Background(), &plan.ServiceNode{Service: firmService, Method: "List"}, e.NewState(nil))
	require.ErrorIs(t, err, ErrClosed)
}

func TestStaticEndpoints(t *testing.T) {
	p := NewStaticEndpoints(map[string][]string{firmService: {"a:1"}, Wildcard: {"b:2"}})
	got, err := p.Endpoints(context.Background(), firmService)
	require.NoError(t, err)
	require.Equal(t, []string{"a:1"}, got)

	got, err = p.Endpoints(context.Background(), "legend.test.Other")
	require.NoError(t, err)
	require.Equal(t, []string{"b:2"}, got)

	p.Set(Wildcard)
	_, err = p.Endpoints(context.Background(), "legend.test.Other")
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestProtoValue(t *testing.T) {
	dec, _, err := big.ParseFloat("12345678901234567.891", 10, 128, big.ToNearestEven)
	require.NoError(t, err)
	got := protoValue(map[string]any{"amount": dec, "list": []any{big.NewFloat(0.5), "x"}})
	want := map[string]any{"amount": "12345678901234567.891", "list": []any{"0.5", "x"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("proto value mismatch (-want +got):\n%s", diff)
	}
	_, err = structpb.NewValue(got)
	require.NoError(t, err)
}
