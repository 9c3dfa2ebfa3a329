package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanpama/legend/internal/eventbus"
	"github.com/hanpama/legend/internal/otel"
	"github.com/hanpama/legend/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plan execution HTTP API",
		Long: `Starts the HTTP API:

  POST /api/execute  {"plan": {...}, "parameters": {...}}
  GET  /healthz
  GET  /metrics

The caller identity is read from the X-Legend-User header.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			eventbus.Use(eventbus.New())
			shutdownOtel, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownOtel(context.Background()) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	opts := []server.Option{
		server.WithTimeout(a.cfg.Server.Timeout),
		server.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.log),
	}
	if a.cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(a.cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(a.cfg.Server.CORSOrigins...))
	}
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           server.New(a.exec, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
