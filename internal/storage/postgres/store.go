// Package postgres stores aggregates as versioned JSON documents in one
// table next to the event journal.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
	"libranexus/internal/uow"
)

const Schema = `
CREATE TABLE IF NOT EXISTS aggregates (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	version        INTEGER     NOT NULL CHECK (version > 0),
	state          JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS aggregates_type_idx ON aggregates (aggregate_type);
`

// Postgres error codes that mean another writer got there first.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct {
	db      *sqlx.DB
	journal *eventstore.Journal
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return New(db), nil
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db, journal: eventstore.NewJournal(db)}
}

func (s *Store) DB() *sqlx.DB                 { return s.db }
func (s *Store) Journal() *eventstore.Journal { return s.journal }
func (s *Store) Close() error                 { return s.db.Close() }

// Migrate creates the aggregate and journal tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate aggregates: %w", err)
	}
	return s.journal.Migrate(ctx)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	return get(ctx, s.db, id)
}

func (s *Store) Begin(ctx context.Context) (uow.Tx, error) {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &tx{tx: sqlTx, journal: s.journal}, nil
}

type tx struct {
	tx      *sqlx.Tx
	journal *eventstore.Journal
}

func (t *tx) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	return get(ctx, t.tx, id)
}

// Put inserts the first version of an aggregate or replaces the version the
// caller read. Zero affected rows mean someone else wrote it in between.
func (t *tx) Put(ctx context.Context, rec uow.Record, expectedVersion int) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = t.tx.NamedExecContext(ctx, `
			INSERT INTO aggregates (id, aggregate_type, version, state, created_at, updated_at)
			VALUES (:id, :aggregate_type, :version, :state, :created_at, :updated_at)
			ON CONFLICT (id) DO NOTHING
		`, rec)
	} else {
		res, err = t.tx.ExecContext(ctx, `
			UPDATE aggregates
			SET version = $2, state = $3, updated_at = $4
			WHERE id = $1 AND version = $5
		`, rec.ID, rec.Version, rec.State, rec.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return translate(fmt.Errorf("write %s %s: %w", rec.AggregateType, rec.ID, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s %s: %w", rec.AggregateType, rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s is no longer at version %d",
			domain.ErrConcurrencyConflict, rec.AggregateType, rec.ID, expectedVersion)
	}
	return nil
}

func (t *tx) Append(ctx context.Context, events []eventstore.Event) error {
	return translate(t.journal.Append(ctx, t.tx, events))
}

func (t *tx) Commit() error {
	return translate(t.tx.Commit())
}

func (t *tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func get(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (uow.Record, error) {
	var rec uow.Record
	err := sqlx.GetContext(ctx, q, &rec, `
		SELECT id, aggregate_type, version, state, created_at, updated_at
		FROM aggregates
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return uow.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return uow.Record{}, fmt.Errorf("get aggregate %s: %w", id, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// translate turns write races reported by Postgres into concurrency conflicts
// so the use case is retried.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
	}
	return err
}
