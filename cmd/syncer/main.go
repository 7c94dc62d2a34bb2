package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/app"
	"github.com/Guizzs26/go-ads-sync/internal/broker"
	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/processor"
	"github.com/Guizzs26/go-ads-sync/internal/scheduler"
	"github.com/Guizzs26/go-ads-sync/pkg/infra"
	"github.com/Guizzs26/go-ads-sync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Syncer initializing...",
		"store", cfg.Store,
		"workers", cfg.Sync.Workers,
		"scheduled_managers", len(cfg.ScheduleManagerIDs),
	)

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: failed to initialize sync engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	publisher := broker.NewReconnectingPublisher(cfg.RabbitMQURL, logger)
	defer publisher.Close()

	handler := processor.NewTriggerHandler(engine.Orchestrator, publisher, logger)

	srv := startObservabilityServer(cfg.MetricsPort, logger)

	var wg sync.WaitGroup
	wg.Go(func() {
		scheduler.New(cfg.ScheduleManagerIDs, cfg.ScheduleHourUTC, handler, logger).Run(ctx)
	})
	wg.Go(func() {
		broker.Consume(ctx, cfg.RabbitMQURL, handler, logger)
	})

	logger.Info("Syncer is running. Waiting for triggers...")
	<-ctx.Done()

	logger.Info("Shutdown signal received, waiting for in-flight runs")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("Syncer shut down successfully")
}

func startObservabilityServer(port string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !metrics.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("SYNCER DEGRADED"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("SYNCER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Observability server failed", "error", err)
		}
	}()
	return server
}
