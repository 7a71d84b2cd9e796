package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"KlineHub/internal/usecase"
	"KlineHub/pkg/config"
	xhttp "KlineHub/pkg/http"
	pkgkafka "KlineHub/pkg/kafka"
	applogger "KlineHub/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	collector  *usecase.TradeCollector
	consumer   *pkgkafka.Consumer
	archiver   *usecase.BarArchiver
	httpServer *xhttp.Server
}

// New creates a new App. Exactly one of collector and consumer is expected
// to be set; the other may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	archiver *usecase.BarArchiver,
	httpServer *xhttp.Server,
) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	return &App{
		cfg:        cfg,
		log:        l,
		collector:  collector,
		consumer:   consumer,
		archiver:   archiver,
		httpServer: httpServer,
	}
}

// Run starts every component and blocks until ctx ends, SIGINT or SIGTERM
// arrives, or the HTTP server fails. It then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.archiver != nil {
		a.archiver.Start()
	}

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.log.Error("collector start error", applogger.Error(err))
			a.shutdown()
			return fmt.Errorf("collector start: %w", err)
		}
		a.log.Info("collector started", applogger.String("source", a.cfg.Source.Type))
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			a.shutdown()
			return fmt.Errorf("kafka consumer start: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.TradesTopic))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-a.httpServer.Errors():
		runErr = err
	}

	a.shutdown()
	return runErr
}

// shutdown stops intake first so the archiver can drain every bar sealed
// before the process exits.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.log.Info("shutting down...")

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.archiver != nil {
		if err := a.archiver.Stop(ctx); err != nil {
			a.log.Warn("archiver drain incomplete", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
