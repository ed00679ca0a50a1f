// Package bootstrap assembles the trading process: configuration, logging,
// telemetry, persistence, venue adapter, risk, the live engine and any grid
// instances, plus the metrics listener.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"perp_trader/internal/alert"
	"perp_trader/internal/config"
	"perp_trader/internal/core"
	"perp_trader/internal/engine/live"
	"perp_trader/internal/exchange"
	"perp_trader/internal/grid"
	"perp_trader/internal/infrastructure/metrics"
	"perp_trader/internal/logging"
	"perp_trader/internal/persistence"
	"perp_trader/internal/risk"
	"perp_trader/internal/strategy"
	"perp_trader/internal/trading/order"
	"perp_trader/pkg/concurrency"
	"perp_trader/pkg/telemetry"

	"golang.org/x/sync/errgroup"

	// Strategies register themselves on import
	_ "perp_trader/internal/strategy/meanreversion"
)

const serviceName = "perp_trader"

// App holds every assembled dependency of the trading process
type App struct {
	Cfg       *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry

	Sink     persistence.Sink
	Exchange core.IExchange
	Executor *order.Executor
	Journal  *risk.Journal
	Risk     *risk.Manager
	Pool     *concurrency.WorkerPool

	Engine  *live.Engine
	Grids   *grid.Manager
	Alerts  *alert.Manager
	Metrics *metrics.Server
}

// NewApp wires the full dependency graph from a config file path
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	sink, err := persistence.New(cfg.Persistence.Driver, cfg.Persistence.Path)
	if err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}

	venue, err := exchange.NewExchange(cfg.App.Exchange, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}

	journal := risk.NewJournal(sink, logger)
	riskManager := risk.NewManager(cfg, journal, logger)
	executor := order.NewExecutor(venue, logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "engine",
		MaxWorkers:  cfg.Concurrency.WorkerPoolSize,
		MaxCapacity: cfg.Concurrency.WorkerPoolBuffer,
	}, logger)

	strat, err := strategy.New(cfg.App.Strategy, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}

	engine := live.NewEngine(cfg, venue, executor, riskManager, journal, sink, pool, logger)
	engine.RegisterStrategy(strat)

	alerts := alert.NewFromConfig(cfg, logger)
	engine.OnTrade(alerts.NotifyTrade)

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
		Sink:      sink,
		Exchange:  venue,
		Executor:  executor,
		Journal:   journal,
		Risk:      riskManager,
		Pool:      pool,
		Engine:    engine,
		Grids:     grid.NewManager(logger),
		Alerts:    alerts,
	}

	if cfg.Telemetry.EnableMetrics {
		app.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, engine, logger)
	}

	if cfg.Grid.Symbol != "" {
		instance := grid.NewInstance("grid-"+cfg.Grid.Symbol, cfg.Grid, venue, executor, journal, logger)
		if err := app.Grids.Add(instance); err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
	}

	return app, nil
}

// Run starts every component and blocks until a termination signal or a
// fatal component error, then shuts down in reverse order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("starting", "service", serviceName,
		"exchange", a.Cfg.App.Exchange, "strategy", a.Cfg.App.Strategy)

	if a.Metrics != nil {
		a.Metrics.Start()
	}

	if err := a.Engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	gridInterval := time.Duration(a.Cfg.Timing.GridMonitorInterval) * time.Second
	if gridInterval <= 0 {
		gridInterval = 2 * time.Second
	}
	for _, id := range a.Grids.IDs() {
		instance, _ := a.Grids.Get(id)
		if err := instance.Start(ctx, gridInterval); err != nil {
			a.Logger.Error("grid start failed", "instance", id, "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err := g.Wait()

	a.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	a.Logger.Info("shut down gracefully")
	return nil
}

// shutdown stops components in reverse start order, each with its own
// deadline so one hung dependency cannot block the rest.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Grids.StopAll(ctx)

	if err := a.Engine.Stop(); err != nil {
		a.Logger.Error("engine stop failed", "error", err)
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Metrics != nil {
		if err := a.Metrics.Stop(ctx); err != nil {
			a.Logger.Error("metrics stop failed", "error", err)
		}
	}
	if err := a.Exchange.Close(); err != nil {
		a.Logger.Error("exchange close failed", "error", err)
	}
	if err := a.Sink.Close(); err != nil {
		a.Logger.Error("sink close failed", "error", err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Error("telemetry shutdown failed", "error", err)
	}
	_ = a.Logger.Sync()
}
