package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/internal/domain"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	pgHost := os.Getenv("PGHOST")
	if pgHost == "" {
		pgHost = "localhost"
	}
	pgUser := os.Getenv("PGUSER")
	if pgUser == "" {
		pgUser = "libranexus"
	}
	pgPassword := os.Getenv("PGPASSWORD")
	if pgPassword == "" {
		pgPassword = "dev_password_change_in_prod"
	}
	pgDB := os.Getenv("PGDATABASE")
	if pgDB == "" {
		pgDB = "libranexus_test"
	}

	connStr := fmt.Sprintf("host=%s port=5432 user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgUser, pgPassword, pgDB)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping journal tests: could not connect to postgres: %v", err)
	}

	j := NewJournal(db)
	require.NoError(t, j.Migrate(context.Background()))
	_, err = db.Exec(`TRUNCATE events, relay_checkpoints RESTART IDENTITY`)
	require.NoError(t, err)
	return db
}

type noteAdded struct {
	NoteID uuid.UUID `json:"note_id"`
	Text   string    `json:"text"`
}

func (e noteAdded) EventType() string      { return "NoteAdded" }
func (e noteAdded) AggregateID() uuid.UUID { return e.NoteID }

func testEvent(aggregateID uuid.UUID, text string, version int) Event {
	data, _ := json.Marshal(noteAdded{NoteID: aggregateID, Text: text})
	return Event{
		AggregateID:   aggregateID,
		AggregateType: "note",
		EventType:     "NoteAdded",
		EventData:     data,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}
}

func appendCommitted(t testing.TB, db *sqlx.DB, j *Journal, events []Event) {
	t.Helper()
	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), tx, events))
	require.NoError(t, tx.Commit())
}

func TestFromDomain(t *testing.T) {
	id := uuid.New()
	at := time.Date(2025, 6, 1, 11, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	e, err := FromDomain(domain.Drained{
		Event:            noteAdded{NoteID: id, Text: "hello"},
		AggregateType:    "note",
		AggregateVersion: 3,
	}, at)
	require.NoError(t, err)

	assert.Zero(t, e.ID, "ids are assigned by the journal")
	assert.Equal(t, id, e.AggregateID)
	assert.Equal(t, "NoteAdded", e.EventType)
	assert.Equal(t, 3, e.Version)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())
	assert.JSONEq(t, fmt.Sprintf(`{"note_id":%q,"text":"hello"}`, id), string(e.EventData))
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	j := NewJournal(db)

	a, b := uuid.New(), uuid.New()
	batch := []Event{testEvent(a, "one", 1), testEvent(b, "two", 1), testEvent(a, "three", 2)}
	appendCommitted(t, db, j, batch)

	assert.Less(t, batch[0].ID, batch[1].ID)
	assert.Less(t, batch[1].ID, batch[2].ID)

	history, err := j.LoadEvents(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, batch[2].ID, history[1].ID)
	assert.JSONEq(t, string(batch[2].EventData), string(history[1].EventData))
}

func TestRolledBackAppendLeavesNoTrace(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	j := NewJournal(db)

	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), tx, []Event{testEvent(uuid.New(), "lost", 1)}))
	require.NoError(t, tx.Rollback())

	events, err := j.StreamEvents(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStreamEventsPages(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	j := NewJournal(db)

	id := uuid.New()
	for i := 1; i <= 5; i++ {
		appendCommitted(t, db, j, []Event{testEvent(id, fmt.Sprintf("event %d", i), i)})
	}

	first, err := j.StreamEvents(context.Background(), 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := j.StreamEvents(context.Background(), first[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, 5, rest[1].Version)
}

func TestCheckpointNeverMovesBack(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	j := NewJournal(db)
	ctx := context.Background()

	pos, err := j.Checkpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, j.SaveCheckpoint(ctx, "relay", 7))
	require.NoError(t, j.SaveCheckpoint(ctx, "relay", 3))

	pos, err = j.Checkpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
}

func BenchmarkAppend(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	j := NewJournal(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		events := []Event{testEvent(uuid.New(), fmt.Sprintf("event %d", i), 1)}
		b.StartTimer()

		appendCommitted(b, db, j, events)
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	j := NewJournal(db)

	aggregateID := uuid.New()
	for i := 0; i < 10; i++ {
		appendCommitted(b, db, j, []Event{testEvent(aggregateID, fmt.Sprintf("event %d", i), i+1)})
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := j.LoadEvents(context.Background(), aggregateID); err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
