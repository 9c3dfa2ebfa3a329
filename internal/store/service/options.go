package service

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Options configures the service store and its gRPC transport.
//
// Defaults:
//   - MaxConnsPerEndpoint: 2
//   - RPCTimeout:          3s, applied when the context has no deadline
//   - DialOptions:         insecure credentials with default backoff
//   - ValuesField:         "values"
//
// Calls fail until a Provider is set.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration

	DialOptions []grpc.DialOption

	// ValuesField names the response field holding the returned objects.
	ValuesField string

	Logger *zap.Logger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
		ValuesField:         "values",
		Logger:              zap.NewNop(),
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithValuesField(name string) Option     { return func(o *Options) { o.ValuesField = name } }
func WithLogger(l *zap.Logger) Option        { return func(o *Options) { o.Logger = l } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}
