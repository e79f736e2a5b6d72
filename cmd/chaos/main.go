// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"libranexus/internal/chaos"
	"libranexus/internal/client"
	"libranexus/internal/config"
	"libranexus/internal/logger"
	"libranexus/internal/outbox"
	"libranexus/internal/storage"
	"libranexus/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chaos: %v\n", err)
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

	tp, shutdownTracing, err := telemetry.Setup(ctx, "libranexus-chaos", cfg.OTLPEndpoint)
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

	target := chaos.NewTarget(backend.Store, backend.Journal, outbox.NewLogPublisher(log), chaos.TargetConfig{
		Policy:         cfg.RentPolicy,
		Window:         cfg.ChaosWindow,
		MaxAttempts:    max(cfg.CommitMaxAttempts, 10),
		Logger:         log,
		TracerProvider: tp,
	})

	engine := chaos.NewEngine(log, chaos.WithPause(cfg.ChaosPause), chaos.WithTracerProvider(tp))
	engine.RegisterExperiments(target)
	if cfg.ChaosTargetURL != "" {
		log.Info("adding HTTP experiments", zap.String("target", cfg.ChaosTargetURL))
		engine.RegisterExperiment(chaos.HTTPReservationRace(client.New(cfg.ChaosTargetURL), 8, cfg.ChaosWindow))
	}

	gameDay := chaos.GameDay{
		Name:      "Weekly Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}
	return engine.ExecuteGameDay(ctx, gameDay)
}
