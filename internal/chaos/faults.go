package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/eventstore"
	"libranexus/internal/outbox"
	"libranexus/internal/uow"
)

// ErrInjected marks failures caused by fault injection.
var ErrInjected = errors.New("injected fault")

// FaultyStore wraps a store and can slow down every read and write or make
// commits fail.
type FaultyStore struct {
	uow.Store
	latency     atomic.Int64
	failCommits atomic.Bool
	commits     atomic.Int64
	failed      atomic.Int64
}

func NewFaultyStore(s uow.Store) *FaultyStore {
	return &FaultyStore{Store: s}
}

// SetLatency delays every store call by d. Zero removes the delay.
func (s *FaultyStore) SetLatency(d time.Duration) { s.latency.Store(int64(d)) }

// FailCommits makes every commit roll back with ErrInjected while on.
func (s *FaultyStore) FailCommits(on bool) { s.failCommits.Store(on) }

// Commits reports how many commits succeeded and how many were failed on
// purpose.
func (s *FaultyStore) Commits() (succeeded, injected int64) {
	return s.commits.Load(), s.failed.Load()
}

func (s *FaultyStore) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	if err := s.delay(ctx); err != nil {
		return uow.Record{}, err
	}
	return s.Store.Get(ctx, id)
}

func (s *FaultyStore) Begin(ctx context.Context) (uow.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, store: s}, nil
}

func (s *FaultyStore) delay(ctx context.Context) error {
	d := time.Duration(s.latency.Load())
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type faultyTx struct {
	uow.Tx
	store *FaultyStore
}

func (t *faultyTx) Get(ctx context.Context, id uuid.UUID) (uow.Record, error) {
	if err := t.store.delay(ctx); err != nil {
		return uow.Record{}, err
	}
	return t.Tx.Get(ctx, id)
}

func (t *faultyTx) Put(ctx context.Context, rec uow.Record, expectedVersion int) error {
	if err := t.store.delay(ctx); err != nil {
		return err
	}
	return t.Tx.Put(ctx, rec, expectedVersion)
}

func (t *faultyTx) Commit() error {
	if t.store.failCommits.Load() {
		t.store.failed.Add(1)
		if err := t.Tx.Rollback(); err != nil {
			return errors.Join(ErrInjected, err)
		}
		return ErrInjected
	}
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.store.commits.Add(1)
	return nil
}

// FlakyPublisher forwards to another publisher unless it is switched off. It
// counts deliveries that arrive with a lower journal id than the one before.
type FlakyPublisher struct {
	next outbox.Publisher

	mu         sync.Mutex
	down       bool
	lastID     int64
	delivered  int
	outOfOrder int
}

func NewFlakyPublisher(next outbox.Publisher) *FlakyPublisher {
	return &FlakyPublisher{next: next}
}

func (p *FlakyPublisher) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *FlakyPublisher) Publish(ctx context.Context, e eventstore.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return ErrInjected
	}
	if err := p.next.Publish(ctx, e); err != nil {
		return err
	}
	if e.ID <= p.lastID {
		p.outOfOrder++
	}
	p.lastID = e.ID
	p.delivered++
	return nil
}

// Stats returns the number of deliveries and how many of them went backwards.
func (p *FlakyPublisher) Stats() (delivered, outOfOrder int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered, p.outOfOrder
}
