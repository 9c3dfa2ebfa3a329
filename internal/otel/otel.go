// Package otel turns execution events into OpenTelemetry spans: one span per
// API request, one per plan execution, one per executor scope nested by
// scope parent, and one per service call.
package otel

import (
	"context"
	"fmt"
	"sync"

	eventbus "github.com/hanpama/legend/internal/eventbus"
	events "github.com/hanpama/legend/internal/events"
	executor "github.com/hanpama/legend/internal/executor"
	reqid "github.com/hanpama/legend/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "legend"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(tp)
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span recording on the global event bus with
// spans created by tp.
func Register(tp trace.TracerProvider) (unsubscribe func()) {
	s := &subscriber{tracer: tp.Tracer(tracerName)}
	return s.register()
}

type subscriber struct {
	tracer trace.Tracer
	spans  sync.Map // key -> trace.Span
}

func httpKey(rid string) string { return "http/" + rid }
func execKey(rid string) string { return "exec/" + rid }

func grpcKey(rid, scope, method string) string {
	return fmt.Sprintf("grpc/%s/%s/%s", rid, scope, method)
}

// parent returns ctx carrying the first live span among keys.
func (s *subscriber) parent(ctx context.Context, keys ...string) context.Context {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v, ok := s.spans.Load(k); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func (s *subscriber) end(key string, err error, attrs ...attribute.KeyValue) {
	v, ok := s.spans.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() func() {
	var unsubs []func()
	add := func(u func()) { unsubs = append(unsubs, u) }

	add(eventbus.Subscribe(func(ctx context.Context, e events.PlanRequestStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
			attribute.String("legend.request_id", e.RequestID),
		)
		s.spans.Store(httpKey(rid), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.PlanRequestFinish) {
		rid, _ := reqid.FromContext(ctx)
		attrs := []attribute.KeyValue{semconv.HTTPStatusCodeKey.Int(e.Status)}
		if e.Root != "" {
			attrs = append(attrs, attribute.String("legend.plan.root", e.Root))
		}
		if e.Category != "" {
			attrs = append(attrs, attribute.String("legend.error.category", e.Category))
		}
		s.end(httpKey(rid), nil, attrs...)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ExecutionStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, httpKey(rid)), "legend.execute")
		span.SetAttributes(
			attribute.Int("legend.parameters", e.Parameters),
			attribute.Int("legend.units", e.Units),
		)
		s.spans.Store(execKey(rid), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ExecutionFinish) {
		rid, _ := reqid.FromContext(ctx)
		s.end(execKey(rid), e.Err)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ScopeStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, e.Parent, execKey(rid), httpKey(rid)), e.Name)
		span.SetAttributes(attributes(e.Attrs)...)
		s.spans.Store(e.ID, span)
	}))

	add(eventbus.Subscribe(func(_ context.Context, e events.ScopeFinish) {
		s.end(e.ID, e.Err, attributes(e.Attrs)...)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ServiceCallStart) {
		rid, _ := reqid.FromContext(ctx)
		scope, _ := executor.ScopeFromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, scope, execKey(rid), httpKey(rid)), "legend.service")
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Endpoint),
			attribute.StringSlice("legend.parameters", e.Parameters),
		)
		s.spans.Store(grpcKey(rid, scope, e.Service+"/"+e.Method), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.ServiceCallFinish) {
		rid, _ := reqid.FromContext(ctx)
		scope, _ := executor.ScopeFromContext(ctx)
		s.end(grpcKey(rid, scope, e.Service+"/"+e.Method), e.Err,
			attribute.String("grpc.code", e.Code.String()),
			attribute.Int("legend.objects", e.Objects),
		)
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func attributes(m map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		key := "legend." + k
		switch x := v.(type) {
		case string:
			out = append(out, attribute.String(key, x))
		case bool:
			out = append(out, attribute.Bool(key, x))
		case int:
			out = append(out, attribute.Int(key, x))
		case int64:
			out = append(out, attribute.Int64(key, x))
		case float64:
			out = append(out, attribute.Float64(key, x))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(x)))
		}
	}
	return out
}
