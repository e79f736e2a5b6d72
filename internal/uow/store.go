package uow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
)

// Record is the persisted snapshot of one aggregate.
type Record struct {
	ID            uuid.UUID `db:"id"`
	AggregateType string    `db:"aggregate_type"`
	Version       int       `db:"version"`
	State         []byte    `db:"state"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Store reads committed aggregates and opens write transactions.
// Get returns an error matching domain.ErrNotFound for unknown ids.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one atomic write. Put stores rec only if the aggregate is currently
// at expectedVersion (zero for an insert); otherwise it, or Commit, fails with
// domain.ErrConcurrencyConflict.
type Tx interface {
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Put(ctx context.Context, rec Record, expectedVersion int) error
	Append(ctx context.Context, events []eventstore.Event) error
	Commit() error
	Rollback() error
}

// Codec converts one aggregate type to and from its stored state.
type Codec interface {
	AggregateType() string
	Encode(a domain.Aggregate) ([]byte, error)
	Decode(rec Record) (domain.Aggregate, error)
}
