// cmd/rental/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/config"
	"libranexus/internal/eventstore"
	"libranexus/internal/logger"
	"libranexus/internal/outbox"
	"libranexus/internal/reaction"
	"libranexus/internal/server"
	"libranexus/internal/storage"
	"libranexus/internal/telemetry"
	"libranexus/internal/uow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rental: %v\n", err)
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

	tp, shutdownTracing, err := telemetry.Setup(ctx, "libranexus-rental", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("shutdown tracing", zap.Error(err))
		}
	}()

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	// The in-process relay writes every committed event to the log. The
	// RabbitMQ relay runs as its own binary against the Postgres journal.
	relay := outbox.NewRelay("log", backend.Journal, outbox.NewLogPublisher(log),
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithPollInterval(cfg.RelayPollInterval),
		outbox.WithLogger(log),
		outbox.WithTracerProvider(tp),
	)

	u := uow.New(backend.Store, reaction.NewTable(cfg.RentPolicy, log),
		[]uow.Codec{catalog.Codec{}, circulation.Codec{}},
		uow.WithLogger(log),
		uow.WithTracerProvider(tp),
		uow.WithMaxAttempts(cfg.CommitMaxAttempts),
		uow.WithObserver(func(context.Context, []eventstore.Event) { relay.Notify() }),
	)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewRouter(server.Config{
			Catalog: catalog.NewService(u, cfg.RentPolicy, log),
			Orders:  circulation.NewService(u, log),
			Logger:  log,
			Limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
			Health:  backend.Health,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("rental service listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage),
			zap.Stringer("rent_policy", cfg.RentPolicy),
		)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		wg.Wait()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}
