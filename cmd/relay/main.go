// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"libranexus/internal/config"
	"libranexus/internal/logger"
	"libranexus/internal/outbox"
	"libranexus/internal/storage/postgres"
	"libranexus/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := telemetry.Setup(ctx, "libranexus-relay", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("shutdown tracing", zap.Error(err))
		}
	}()

	// The journal only outlives the process in Postgres, so the relay reads
	// it from there regardless of STORAGE.
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	publisher, err := outbox.NewRabbitMQPublisher(ctx, cfg.RabbitMQURL, cfg.RelayQueue, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	relay := outbox.NewRelay(cfg.RelayName, store.Journal(), publisher,
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithPollInterval(cfg.RelayPollInterval),
		outbox.WithLogger(log),
		outbox.WithTracerProvider(tp),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Info("relaying journal",
		zap.String("relay", cfg.RelayName),
		zap.String("queue", cfg.RelayQueue),
		zap.String("metrics_addr", metricsSrv.Addr),
	)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
