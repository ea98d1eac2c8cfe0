// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app wires the stores, the chain engine and the analyses of one
// run together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/proxyex/config"
	"github.com/ava-labs/proxyex/conflict"
	"github.com/ava-labs/proxyex/database/factory"
	"github.com/ava-labs/proxyex/engine"
	"github.com/ava-labs/proxyex/engine/gethengine"
	"github.com/ava-labs/proxyex/invocation"
	"github.com/ava-labs/proxyex/regression"
	"github.com/ava-labs/proxyex/replay"
	"github.com/ava-labs/proxyex/results"
	"github.com/ava-labs/proxyex/results/kvstore"
	"github.com/ava-labs/proxyex/results/sqlstore"
	"github.com/ava-labs/proxyex/utils/logging"
	"github.com/ava-labs/proxyex/utils/wrappers"
)

const (
	loggerName      = "proxyex"
	shutdownTimeout = 5 * time.Second
)

// EngineOpener opens the engine an analysis replays against.
type EngineOpener func(gethengine.Config, logging.Logger) (Engine, error)

// Engine is an engine.Engine holding resources.
type Engine interface {
	engine.Engine
	io.Closer
}

// App holds the long lived resources of a run.
type App struct {
	config     config.Config
	logFactory logging.Factory
	log        logging.Logger
	registry   *prometheus.Registry
	server     *http.Server

	store       results.Store
	invocations *sql.DB
	closers     []io.Closer

	openEngine EngineOpener
	// runs numbers the analyses started on this app so each registers its
	// metrics under a distinct run label.
	runs atomic.Uint64
}

// New opens the results store and the invocation database described by
// [cfg] and starts the metrics endpoint if one is configured.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logFactory := logging.NewFactory(cfg.Logging)
	log, err := logFactory.Make(loggerName)
	if err != nil {
		logFactory.Close()
		return nil, fmt.Errorf("failed to initialize log: %w", err)
	}

	a := &App{
		config:     cfg,
		logFactory: logFactory,
		log:        log,
		registry:   prometheus.NewRegistry(),
		openEngine: openGethEngine,
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func openGethEngine(cfg gethengine.Config, log logging.Logger) (Engine, error) {
	e, err := gethengine.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (a *App) init(ctx context.Context) error {
	errs := wrappers.Errs{}
	errs.Add(
		a.registry.Register(collectors.NewGoCollector()),
		a.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	)
	if errs.Errored() {
		return errs.Err
	}

	switch a.config.Database.Type {
	case sqlstore.Name:
		s, err := sqlstore.Open(ctx, a.config.Database.Path)
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s)
	default:
		db, err := factory.NewDatabase(factory.DatabaseConfig{
			Path: a.config.Database.Path,
			Name: a.config.Database.Type,
		}, a.log)
		if err != nil {
			return err
		}
		s := kvstore.New(db)
		a.store = s
		a.closers = append(a.closers, s)
	}

	if s, ok := a.store.(*sqlstore.Store); ok && a.config.Database.InvocationsPath == a.config.Database.Path {
		a.invocations = s.DB()
	} else {
		s, err := sqlstore.Open(ctx, a.config.Database.InvocationsPath)
		if err != nil {
			return fmt.Errorf("open invocations: %w", err)
		}
		a.invocations = s.DB()
		a.closers = append(a.closers, s)
	}

	a.log.Info("opened stores",
		zap.String("type", a.config.Database.Type),
		zap.String("path", a.config.Database.Path),
		zap.String("invocations", a.config.Database.InvocationsPath),
	)

	if a.config.MetricsAddr != "" {
		a.serveMetrics()
	}
	return nil
}

func (a *App) serveMetrics() {
	a.server = &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.log.Info("serving metrics", zap.String("addr", a.config.MetricsAddr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// runRegisterer returns a registerer that labels every metric of the next
// analysis with its run number.
func (a *App) runRegisterer() (prometheus.Registerer, string) {
	run := strconv.FormatUint(a.runs.Add(1), 10)
	return prometheus.WrapRegistererWith(prometheus.Labels{"run": run}, a.registry), run
}

// Log returns the logger of the run.
func (a *App) Log() logging.Logger {
	return a.log
}

func (a *App) Close() error {
	errs := wrappers.Errs{}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs.Add(a.server.Shutdown(ctx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs.Add(a.closers[i].Close())
	}
	a.logFactory.Close()
	return errs.Err
}

// Replay runs the collision analysis over every proxy without a verdict.
func (a *App) Replay(ctx context.Context) error {
	eng, err := a.openEngine(a.config.Chain, a.log)
	if err != nil {
		return err
	}
	defer eng.Close()

	source := invocation.NewSource(a.invocations, a.config.WindowSize, a.config.Proxies, a.log)
	proxies, err := source.Count(ctx)
	if err != nil {
		return err
	}
	reg, run := a.runRegisterer()
	a.log.Info("starting replay",
		zap.String("run", run),
		zap.Uint64("proxies", proxies),
		zap.Int("jobs", a.config.Jobs),
	)

	outputs := make(chan replay.Output)
	scheduler, err := replay.NewScheduler(replay.Config{
		Jobs:        a.config.Jobs,
		TaskTimeout: a.config.TaskTimeout,
		Proxies:     proxies,
	}, eng, a.log, reg, outputs)
	if err != nil {
		return err
	}
	collector := results.NewCollector(a.store, a.log)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return collector.Run(egCtx, outputs)
	})
	eg.Go(func() error {
		defer scheduler.Close()
		_, err := source.Run(egCtx, scheduler)
		return err
	})
	return eg.Wait()
}

// Regression replays invocations with the implementations deployed after
// them and records the differences.
func (a *App) Regression(ctx context.Context) error {
	eng, err := a.openEngine(a.config.Chain, a.log)
	if err != nil {
		return err
	}
	defer eng.Close()

	reg, run := a.runRegisterer()
	a.log.Info("starting regression", zap.String("run", run), zap.Int("jobs", a.config.Jobs))

	codes, err := regression.NewCodeSource(eng, a.config.CodeCacheSize, reg)
	if err != nil {
		return err
	}
	runner, err := regression.NewRunner(a.config.Jobs, eng, codes, a.store, a.log, reg)
	if err != nil {
		return err
	}
	source := invocation.NewSource(a.invocations, a.config.WindowSize, a.config.Proxies, a.log)

	jobs := make(chan regression.Job, a.config.Jobs)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return runner.Run(egCtx, jobs)
	})
	eg.Go(func() error {
		_, err := source.Jobs(egCtx, jobs)
		return err
	})
	return eg.Wait()
}

// Analyze replays the invocations of every problematic proxy without a
// conflict report and records which code wrote each conflicting slot. It
// returns the number of reports written.
func (a *App) Analyze(ctx context.Context) (int, error) {
	eng, err := a.openEngine(a.config.Chain, a.log)
	if err != nil {
		return 0, err
	}
	defer eng.Close()

	reg, run := a.runRegisterer()
	a.log.Info("starting conflict analysis", zap.String("run", run), zap.Int("jobs", a.config.Jobs))

	source := invocation.NewSource(a.invocations, a.config.WindowSize, a.config.Proxies, a.log)
	analyzer, err := conflict.NewAnalyzer(conflict.Config{
		Jobs:        a.config.Jobs,
		PageSize:    a.config.WindowSize,
		TaskTimeout: a.config.TaskTimeout,
		Proxies:     a.config.Proxies,
	}, eng, source, a.store, a.log, reg)
	if err != nil {
		return 0, err
	}
	return analyzer.Run(ctx, a.store)
}

// Import loads newline delimited proxy records from [r].
func (a *App) Import(ctx context.Context, r io.Reader) (invocation.ImportStats, error) {
	return invocation.Import(ctx, a.invocations, r, a.log)
}

// FilterRegressions records the missed and additional slots of every
// regression whose slot set changed.
func (a *App) FilterRegressions(ctx context.Context) (int, error) {
	return regression.FilterAll(ctx, a.store, a.store, a.config.WindowSize, a.log)
}
