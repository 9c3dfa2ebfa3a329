package main

import (
	"errors"
	"fmt"

	"github.com/hanpama/legend/internal/config"
	"github.com/hanpama/legend/internal/executor"
	"github.com/hanpama/legend/internal/logging"
	"github.com/hanpama/legend/internal/metrics"
	"github.com/hanpama/legend/internal/nativecode"
	"github.com/hanpama/legend/internal/store/inmemory"
	"github.com/hanpama/legend/internal/store/relational"
	"github.com/hanpama/legend/internal/store/service"
	"github.com/hanpama/legend/internal/templating"
	"github.com/hanpama/legend/internal/validation"
	"go.uber.org/zap"
)

// app holds the components wired from a configuration.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *metrics.Registry
	compiler *nativecode.Compiler
	exec     *executor.Executor
	closers  []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, log)
}

func buildApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.NewRegistry()}

	filter := nativecode.All()
	if pkgs := cfg.NativeCode.AllowPackages; len(pkgs) > 0 {
		filter = nativecode.Packages(pkgs...)
	}
	compiler, err := nativecode.NewCompiler(nativecode.StandardLibrary(),
		nativecode.WithFilter(filter),
		nativecode.WithIsolation(cfg.NativeCode.Isolate),
		nativecode.WithCacheSize(cfg.NativeCode.CacheSize),
		nativecode.WithLogger(log),
		nativecode.WithObserver(a.metrics.Compilation),
	)
	if err != nil {
		return nil, err
	}
	a.compiler = compiler

	templates := templating.New(cfg.Execution.TemplateCacheSize)

	rel := relational.New(
		relational.WithDriver(cfg.Stores.Relational.Driver),
		relational.WithConnections(cfg.Stores.Relational.Connections),
		relational.WithMaxOpenConns(cfg.Stores.Relational.MaxOpenConns),
		relational.WithTemplates(templates),
		relational.WithLogger(log),
	)
	a.closers = append(a.closers, rel.Close)

	mem := inmemory.New(
		inmemory.WithFilterCacheSize(cfg.Stores.InMemory.FilterCacheSize),
		inmemory.WithLogger(log),
	)
	if err := mem.LoadFiles(cfg.Stores.InMemory.Datasets); err != nil {
		_ = a.Close()
		return nil, err
	}

	svc := service.New(
		service.WithProvider(service.NewStaticEndpoints(cfg.Stores.Service.Endpoints)),
		service.WithRPCTimeout(cfg.Stores.Service.RPCTimeout),
		service.WithMaxConnsPerEndpoint(cfg.Stores.Service.MaxConnsPerEndpoint),
		service.WithValuesField(cfg.Stores.Service.ValuesField),
		service.WithLogger(log),
	)
	a.closers = append(a.closers, svc.Close)

	a.exec = executor.New(
		executor.WithStore(rel),
		executor.WithStore(mem),
		executor.WithStore(svc),
		executor.WithCompiler(compiler),
		executor.WithMetrics(a.metrics),
		executor.WithLogger(log),
		executor.WithValidator(validation.New(
			validation.WithStrictDateFormats(cfg.Validation.StrictDateFormats...),
			validation.WithDateTimeFormats(cfg.Validation.DateTimeFormats...),
		)),
		executor.WithTemplates(templates),
		executor.WithBatchSize(cfg.Execution.BatchSize),
		executor.WithMemoryLimit(cfg.Execution.MemoryLimit),
		executor.WithRealizeAllocations(cfg.Execution.RealizeInMemory),
	)
	log.Debug("components ready",
		zap.Int("relationalConnections", len(cfg.Stores.Relational.Connections)),
		zap.Int("datasets", mem.Len()),
		zap.Int("services", len(cfg.Stores.Service.Endpoints)),
	)
	return a, nil
}

// Close releases the stores and flushes the logger.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.log.Sync()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
