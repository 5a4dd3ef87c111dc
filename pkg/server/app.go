package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/service/eventbus"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/queue"
)

// Components are the long-running pieces the App starts and stops. Only
// Market and HTTP are required.
type Components struct {
	Market    *usecase.MarketData
	Options   *usecase.OptionsFlowMonitor
	Forwarder *usecase.AlertForwarder
	Scheduler *queue.Scheduler
	Bus       *eventbus.Bus
	Consumer  *pkgkafka.Consumer
	Feed      pkgkafka.MessageHandler
	HTTP      *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg    *config.Config
	logger *applogger.Logger
	c      Components
	wg     sync.WaitGroup
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, lgr *applogger.Logger, c Components) *App {
	if lgr == nil {
		lgr = applogger.NewNop()
	}
	return &App{cfg: cfg, logger: lgr, c: c}
}

// Run starts every component and blocks until ctx is cancelled or the HTTP
// server fails to listen.
func (a *App) Run(ctx context.Context) error {
	if a.c.Market == nil || a.c.HTTP == nil {
		return errors.New("app: market data engine and http server are required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if note := a.cfg.ProviderNote; note != "" {
		a.logger.Warn("provider downgraded to simulated", applogger.String("reason", note))
	}

	if a.c.Scheduler != nil {
		a.goRun("request scheduler", func() error { return a.c.Scheduler.Run(ctx) })
	}
	if a.c.Forwarder != nil && a.c.Bus != nil {
		sub := a.c.Bus.Subscribe(0, a.c.Forwarder.Categories()...)
		a.goRun("alert forwarder", func() error { return a.c.Forwarder.Run(ctx, sub) })
	}

	if err := a.c.Market.Start(ctx); err != nil {
		cancel()
		a.stopWorkers()
		return fmt.Errorf("start market data: %w", err)
	}
	a.logger.Info("market data started",
		applogger.String("provider", a.c.Market.GetStatus().Provider),
		applogger.Strings("symbols", a.c.Market.GetStatus().Subscriptions))

	if a.c.Options != nil && a.cfg.Options.Enabled {
		a.goRun("options monitor", func() error { return a.c.Options.Run(ctx) })
	}

	// Start consumer if configured
	if a.c.Consumer != nil && a.c.Feed != nil {
		a.c.Consumer.RegisterHandler(a.c.Feed)
		if err := a.c.Consumer.Start(); err != nil {
			a.logger.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.logger.Info("kafka consumer started", applogger.String("topic", a.c.Feed.Topic()))
		}
	}

	if err := a.c.HTTP.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-a.c.HTTP.Errors():
	}
	cancel()
	a.shutdown()
	return runErr
}

func (a *App) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(name+" stopped with error", applogger.Error(err))
		}
	}()
}

// shutdown gracefully stops all services. The caller has already cancelled
// the run context.
func (a *App) shutdown() {
	a.logger.Info("shutting down...")
	timeout := a.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.c.HTTP.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.c.Market.Close(); err != nil {
		a.logger.Warn("market data close error", applogger.Error(err))
	}

	a.stopWorkers()
	a.logger.Info("shutdown complete")
}

// stopWorkers joins the goroutines started by goRun and releases what they
// used. The run context must already be cancelled.
func (a *App) stopWorkers() {
	// the forwarder flushes its pending batch before returning
	a.wg.Wait()
	if a.c.Forwarder != nil {
		if err := a.c.Forwarder.Close(); err != nil {
			a.logger.Warn("alert store close error", applogger.Error(err))
		}
	}
	if a.c.Bus != nil {
		a.c.Bus.Close()
	}
}
