// Package storage opens the aggregate store and journal selected by the
// configuration.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"libranexus/internal/config"
	"libranexus/internal/outbox"
	"libranexus/internal/storage/memory"
	"libranexus/internal/storage/postgres"
	"libranexus/internal/uow"
)

// Backend is an opened store together with the journal it appends to.
type Backend struct {
	Store   uow.Store
	Journal outbox.Source
	// Health is nil for backends that can not become unreachable.
	Health func(ctx context.Context) error
	Close  func() error
}

// Open connects to the configured backend. Postgres schemas are migrated.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("using postgres storage")
		return &Backend{
			Store:   pg,
			Journal: pg.Journal(),
			Health:  pg.DB().PingContext,
			Close:   pg.Close,
		}, nil
	default:
		m := memory.New()
		logger.Info("using in-memory storage")
		return &Backend{
			Store:   m,
			Journal: m,
			Close:   func() error { return nil },
		}, nil
	}
}
