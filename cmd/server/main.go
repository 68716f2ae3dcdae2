package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/reqsync/internal/app"
	"github.com/mamadbah2/reqsync/internal/config"
	"github.com/mamadbah2/reqsync/internal/scheduler"
	"github.com/mamadbah2/reqsync/internal/server/handlers"
	"github.com/mamadbah2/reqsync/internal/server/router"
	"github.com/mamadbah2/reqsync/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("REQSYNC_CONFIG"), os.Getenv("REQSYNC_ENV_FILE"))
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	services, err := app.New(context.Background(), cfg, baseLogger)
	if err != nil {
		baseLogger.Fatal("failed to init services", zap.Error(err))
	}
	defer services.Close(context.Background())

	transferHandler := handlers.NewTransferHandler(services.Runner, services.Transfer, baseLogger.Named("handlers.transfer"))
	reportHandler := handlers.NewReportHandler(nil, nil, baseLogger.Named("handlers.reports"))
	if services.History != nil {
		reportHandler = handlers.NewReportHandler(services.History, services.Reporting, baseLogger.Named("handlers.reports"))
	}
	engine := router.New(transferHandler, reportHandler, baseLogger.Named("router"))

	if cfg.Sync.Enabled {
		sched, err := scheduler.NewScheduler(cfg.Sync, services.Runner, baseLogger.Named("scheduler"))
		if err != nil {
			baseLogger.Fatal("failed to init scheduler", zap.Error(err))
		}
		if err := sched.Start(); err != nil {
			baseLogger.Fatal("failed to start scheduler", zap.Error(err))
		}
		defer sched.Stop()
		baseLogger.Info("next sync cycle scheduled", zap.Time("at", sched.Next()))
	} else {
		baseLogger.Warn("scheduled sync disabled, cycles run only on demand")
	}

	// Manual export requests run a full cycle, so the write timeout follows
	// the cycle timeout rather than a fixed request budget.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Sync.RunTimeout.Std() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
