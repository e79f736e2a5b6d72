package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/internal/domain"
)

// Schema creates the journal and relay checkpoint tables.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   UUID        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	event_data     JSONB       NOT NULL,
	version        INTEGER     NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_aggregate_idx ON events (aggregate_id, id);

CREATE TABLE IF NOT EXISTS relay_checkpoints (
	name       TEXT PRIMARY KEY,
	position   BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// appendLockKey serializes journal writers so ids become visible in order.
const appendLockKey = 0x4c49424e

// Event is a committed domain event as stored in the journal. Version is the
// aggregate version written by the same commit.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// FromDomain serializes a drained domain event for the journal.
func FromDomain(d domain.Drained, at time.Time) (Event, error) {
	data, err := json.Marshal(d.Event)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", d.Event.EventType(), err)
	}
	return Event{
		AggregateID:   d.Event.AggregateID(),
		AggregateType: d.AggregateType,
		EventType:     d.Event.EventType(),
		EventData:     data,
		Version:       d.AggregateVersion,
		CreatedAt:     at.UTC(),
	}, nil
}

// Journal is the Postgres event journal. Appends run inside the caller's
// transaction; reads use the pool.
type Journal struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("libranexus/eventstore"),
	}
}

// Migrate creates the journal tables if they do not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Append inserts events in order within tx and fills in their ids.
func (j *Journal) Append(ctx context.Context, tx sqlx.ExtContext, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := j.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}

	for i := range events {
		e := &events[i]
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, e.AggregateID, e.AggregateType, e.EventType, []byte(e.EventData), e.Version, e.CreatedAt).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert event %d (%s): %w", i, e.EventType, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", e.ID),
			attribute.String("event.type", e.EventType),
			attribute.String("aggregate.id", e.AggregateID.String()),
		))
	}
	return nil
}

// LoadEvents returns the history of one aggregate in commit order.
func (j *Journal) LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var events []Event
	err := j.db.SelectContext(ctx, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY id ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// StreamEvents returns up to batchSize entries with ids greater than fromID.
func (j *Journal) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	var events []Event
	err := j.db.SelectContext(ctx, &events, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, created_at
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// Checkpoint returns the last position saved by the named relay, or zero.
func (j *Journal) Checkpoint(ctx context.Context, name string) (int64, error) {
	var position int64
	err := j.db.GetContext(ctx, &position, `SELECT position FROM relay_checkpoints WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	return position, nil
}

// SaveCheckpoint records the last published position. It never moves backwards.
func (j *Journal) SaveCheckpoint(ctx context.Context, name string, position int64) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO relay_checkpoints (name, position, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position,
		    updated_at = EXCLUDED.updated_at
		WHERE relay_checkpoints.position < EXCLUDED.position
	`, name, position, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}
