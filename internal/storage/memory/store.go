// Package memory keeps aggregates and the event journal in process memory.
// It honours the same optimistic version checks as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
	"libranexus/internal/uow"
)

type Store struct {
	mu          sync.RWMutex
	records     map[uuid.UUID]uow.Record
	journal     []eventstore.Event
	checkpoints map[string]int64
}

func New() *Store {
	return &Store{
		records:     make(map[uuid.UUID]uow.Record),
		checkpoints: make(map[string]int64),
	}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	if err := ctx.Err(); err != nil {
		return uow.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return uow.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return cloneRecord(rec), nil
}

func (s *Store) Begin(ctx context.Context) (uow.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		store:  s,
		writes: make(map[uuid.UUID]uow.Record),
		base:   make(map[uuid.UUID]int),
	}, nil
}

// LoadEvents returns the journal entries of one aggregate.
func (s *Store) LoadEvents(_ context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []eventstore.Event
	for _, e := range s.journal {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// StreamEvents returns up to batchSize entries with ids greater than fromID.
func (s *Store) StreamEvents(_ context.Context, fromID int64, batchSize int) ([]eventstore.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// ids are 1-based positions in the journal
	start := int(fromID)
	if start < 0 {
		start = 0
	}
	if start >= len(s.journal) {
		return nil, nil
	}
	end := min(start+batchSize, len(s.journal))
	out := make([]eventstore.Event, end-start)
	copy(out, s.journal[start:end])
	return out, nil
}

func (s *Store) Checkpoint(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[name], nil
}

func (s *Store) SaveCheckpoint(_ context.Context, name string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.checkpoints[name] {
		s.checkpoints[name] = position
	}
	return nil
}

type tx struct {
	store  *Store
	writes map[uuid.UUID]uow.Record
	// base holds the committed version each written aggregate was read at.
	base    map[uuid.UUID]int
	order   []uuid.UUID
	batches [][]eventstore.Event
	done    bool
}

func (t *tx) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	if rec, ok := t.writes[id]; ok {
		return cloneRecord(rec), nil
	}
	return t.store.Get(ctx, id)
}

func (t *tx) Put(_ context.Context, rec uow.Record, expectedVersion int) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}

	current, pending := t.writes[rec.ID]
	if !pending {
		t.store.mu.RLock()
		current = t.store.records[rec.ID]
		t.store.mu.RUnlock()
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: %s %s is at version %d, expected %d",
			domain.ErrConcurrencyConflict, rec.AggregateType, rec.ID, current.Version, expectedVersion)
	}

	if !pending {
		t.base[rec.ID] = expectedVersion
		t.order = append(t.order, rec.ID)
	}
	t.writes[rec.ID] = cloneRecord(rec)
	return nil
}

// Append keeps the caller's slice so Commit can fill in the journal ids.
func (t *tx) Append(_ context.Context, events []eventstore.Event) error {
	t.batches = append(t.batches, events)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.order {
		if got := s.records[id].Version; got != t.base[id] {
			return fmt.Errorf("%w: %s changed to version %d since it was read at %d",
				domain.ErrConcurrencyConflict, id, got, t.base[id])
		}
	}
	for _, id := range t.order {
		s.records[id] = t.writes[id]
	}
	for _, batch := range t.batches {
		for i := range batch {
			batch[i].ID = int64(len(s.journal) + 1)
			s.journal = append(s.journal, batch[i])
		}
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.writes = nil
	t.batches = nil
	return nil
}

func cloneRecord(rec uow.Record) uow.Record {
	rec.State = append([]byte(nil), rec.State...)
	return rec
}
