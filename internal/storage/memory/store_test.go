package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
	"libranexus/internal/uow"
)

func record(id uuid.UUID, version int, state string) uow.Record {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return uow.Record{
		ID:            id,
		AggregateType: "item",
		Version:       version,
		State:         []byte(state),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestGetUnknownIsNotFound(t *testing.T) {
	_, err := New().Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, record(id, 1, `{"a":1}`), 0))

	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound, "uncommitted write must not be visible")

	got, err := tx.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	require.NoError(t, tx.Commit())

	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.JSONEq(t, `{"a":1}`, string(got.State))
}

func TestPutChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.Put(ctx, record(id, 1, `{}`), 0))
	require.NoError(t, tx.Commit())

	tx, _ = s.Begin(ctx)
	err := tx.Put(ctx, record(id, 1, `{}`), 0)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// a second write in the same transaction builds on the first
	require.NoError(t, tx.Put(ctx, record(id, 2, `{}`), 1))
	require.NoError(t, tx.Put(ctx, record(id, 3, `{}`), 2))
	require.NoError(t, tx.Commit())

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
}

func TestCommitDetectsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	seed, _ := s.Begin(ctx)
	require.NoError(t, seed.Put(ctx, record(id, 1, `{"v":1}`), 0))
	require.NoError(t, seed.Commit())

	first, _ := s.Begin(ctx)
	second, _ := s.Begin(ctx)
	require.NoError(t, first.Put(ctx, record(id, 2, `{"v":"first"}`), 1))
	require.NoError(t, second.Put(ctx, record(id, 2, `{"v":"second"}`), 1))
	require.NoError(t, second.Append(ctx, []eventstore.Event{{EventType: "Lost"}}))

	require.NoError(t, first.Commit())
	err := second.Commit()
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	got, _ := s.Get(ctx, id)
	assert.JSONEq(t, `{"v":"first"}`, string(got.State))

	events, err := s.StreamEvents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "losing transaction must not reach the journal")
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.Put(ctx, record(id, 1, `{}`), 0))
	require.NoError(t, tx.Append(ctx, []eventstore.Event{{AggregateID: id, EventType: "ItemCreated"}}))
	require.NoError(t, tx.Rollback())
	require.Error(t, tx.Commit())

	_, err := s.Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	events, _ := s.StreamEvents(ctx, 0, 10)
	assert.Empty(t, events)
}

func TestJournalAssignsIdsInCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()

	batch := []eventstore.Event{
		{AggregateID: a, EventType: "ItemCreated"},
		{AggregateID: b, EventType: "ItemCreated"},
	}
	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.Append(ctx, batch))
	require.NoError(t, tx.Commit())

	tx, _ = s.Begin(ctx)
	require.NoError(t, tx.Append(ctx, []eventstore.Event{{AggregateID: a, EventType: "ItemReserved"}}))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), batch[0].ID, "commit fills in the caller's entries")
	assert.Equal(t, int64(2), batch[1].ID)

	page, err := s.StreamEvents(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].ID)

	rest, err := s.StreamEvents(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "ItemReserved", rest[0].EventType)

	history, err := s.LoadEvents(ctx, a)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, []string{"ItemCreated", "ItemReserved"}, []string{history[0].EventType, history[1].EventType})
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := New()

	pos, err := s.Checkpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, s.SaveCheckpoint(ctx, "relay", 5))
	require.NoError(t, s.SaveCheckpoint(ctx, "relay", 3))

	pos, _ = s.Checkpoint(ctx, "relay")
	assert.Equal(t, int64(5), pos)
}
