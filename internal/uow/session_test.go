package uow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
	"libranexus/internal/storage/memory"
	"libranexus/internal/uow"
)

var now = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

type bumped struct {
	CounterID uuid.UUID `json:"counter_id"`
	By        int       `json:"by"`
}

func (e bumped) EventType() string      { return "Bumped" }
func (e bumped) AggregateID() uuid.UUID { return e.CounterID }

type counter struct {
	domain.Entity
	n int
}

func newCounter() *counter { return &counter{Entity: domain.NewEntity(now)} }

func (c *counter) AggregateType() string { return "counter" }

func (c *counter) bump(by int) {
	c.n += by
	c.Raise(bumped{CounterID: c.ID(), By: by})
}

type counterCodec struct{}

func (counterCodec) AggregateType() string { return "counter" }

func (counterCodec) Encode(a domain.Aggregate) ([]byte, error) {
	return json.Marshal(a.(*counter).n)
}

func (counterCodec) Decode(rec uow.Record) (domain.Aggregate, error) {
	c := &counter{Entity: domain.RestoreEntity(rec.ID, rec.CreatedAt, rec.Version)}
	return c, json.Unmarshal(rec.State, &c.n)
}

func newUnitOfWork(store uow.Store, d uow.Dispatcher, opts ...uow.Option) *uow.UnitOfWork {
	opts = append([]uow.Option{uow.WithClock(domain.FixedClock(now))}, opts...)
	return uow.New(store, d, []uow.Codec{counterCodec{}}, opts...)
}

func load(t *testing.T, s *uow.Session, id uuid.UUID) *counter {
	t.Helper()
	a, err := s.Load(context.Background(), id)
	require.NoError(t, err)
	return a.(*counter)
}

func seed(t *testing.T, u *uow.UnitOfWork) uuid.UUID {
	t.Helper()
	c := newCounter()
	s := u.NewSession()
	s.Add(c)
	_, err := s.Commit(context.Background())
	require.NoError(t, err)
	return c.ID()
}

func TestCommitWritesNewAggregateAndJournal(t *testing.T) {
	store := memory.New()
	var observed []eventstore.Event
	u := newUnitOfWork(store, nil, uow.WithObserver(func(_ context.Context, events []eventstore.Event) {
		observed = append(observed, events...)
	}))

	c := newCounter()
	c.bump(2)
	s := u.NewSession()
	s.Add(c)
	writes, err := s.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, c.Version())

	rec, err := store.Get(context.Background(), c.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, "counter", rec.AggregateType)
	assert.Equal(t, now, rec.UpdatedAt)

	require.Len(t, observed, 1)
	assert.Equal(t, int64(1), observed[0].ID)
	assert.Equal(t, "Bumped", observed[0].EventType)
	assert.Equal(t, 1, observed[0].Version)
	assert.JSONEq(t, fmt.Sprintf(`{"counter_id":%q,"by":2}`, c.ID()), string(observed[0].EventData))
}

func TestUnchangedAggregatesAreNotWritten(t *testing.T) {
	store := memory.New()
	u := newUnitOfWork(store, nil)
	id := seed(t, u)

	s := u.NewSession()
	load(t, s, id)
	writes, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, writes)

	rec, _ := store.Get(context.Background(), id)
	assert.Equal(t, 1, rec.Version)
}

func TestLoadReturnsTrackedInstance(t *testing.T) {
	u := newUnitOfWork(memory.New(), nil)
	id := seed(t, u)

	s := u.NewSession()
	assert.Same(t, load(t, s, id), load(t, s, id))

	_, err := s.Load(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConflictingCommitWritesNothing(t *testing.T) {
	store := memory.New()
	var dispatched, observed atomic.Int32
	d := uow.DispatcherFunc(func(context.Context, uow.Loader, domain.Event) error {
		dispatched.Add(1)
		return nil
	})
	u := newUnitOfWork(store, d, uow.WithObserver(func(context.Context, []eventstore.Event) { observed.Add(1) }))
	id := seed(t, u)
	dispatched.Store(0)
	observed.Store(0)

	first, second := u.NewSession(), u.NewSession()
	load(t, first, id).bump(1)
	load(t, second, id).bump(5)

	_, err := first.Commit(context.Background())
	require.NoError(t, err)
	_, err = second.Commit(context.Background())
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	assert.Equal(t, int32(1), dispatched.Load(), "loser never reaches dispatch")
	assert.Equal(t, int32(1), observed.Load())

	s := u.NewSession()
	assert.Equal(t, 1, load(t, s, id).n)
	events, _ := store.LoadEvents(context.Background(), id)
	assert.Len(t, events, 1)
}

func TestCancelledContextAbortsCommit(t *testing.T) {
	store := memory.New()
	u := newUnitOfWork(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newCounter()
	s := u.NewSession()
	s.Add(c)
	_, err := s.Commit(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = store.Get(context.Background(), c.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Commit(context.Background())
	require.ErrorIs(t, err, uow.ErrSessionClosed, "failed session can not be reused")
}

func TestReactionsRunInsideTheCommit(t *testing.T) {
	store := memory.New()
	var mirror uuid.UUID
	d := uow.DispatcherFunc(func(ctx context.Context, l uow.Loader, e domain.Event) error {
		b := e.(bumped)
		if b.CounterID == mirror {
			return nil
		}
		a, err := l.Load(ctx, mirror)
		if err != nil {
			return err
		}
		a.(*counter).bump(b.By * 10)
		return nil
	})
	u := newUnitOfWork(store, d)
	mirror = seed(t, u)
	id := seed(t, u)

	s := u.NewSession()
	load(t, s, id).bump(3)
	writes, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, writes)

	check := u.NewSession()
	assert.Equal(t, 30, load(t, check, mirror).n)
	assert.Equal(t, 2, load(t, check, mirror).Version())

	events, _ := store.StreamEvents(context.Background(), 0, 10)
	require.Len(t, events, 2)
	assert.Equal(t, id, events[0].AggregateID)
	assert.Equal(t, mirror, events[1].AggregateID)
}

func TestFailingReactionRollsBack(t *testing.T) {
	store := memory.New()
	boom := errors.New("boom")
	u := newUnitOfWork(store, uow.DispatcherFunc(func(context.Context, uow.Loader, domain.Event) error {
		return boom
	}))

	c := newCounter()
	c.bump(1)
	s := u.NewSession()
	s.Add(c)
	_, err := s.Commit(context.Background())
	require.ErrorIs(t, err, boom)

	_, err = store.Get(context.Background(), c.ID())
	require.ErrorIs(t, err, domain.ErrNotFound)
	events, _ := store.StreamEvents(context.Background(), 0, 10)
	assert.Empty(t, events)
}

func TestEndlessReactionsHitDepthLimit(t *testing.T) {
	u := newUnitOfWork(memory.New(), uow.DispatcherFunc(func(ctx context.Context, l uow.Loader, e domain.Event) error {
		a, err := l.Load(ctx, e.AggregateID())
		if err != nil {
			return err
		}
		a.(*counter).bump(1)
		return nil
	}), uow.WithMaxRounds(4))

	c := newCounter()
	c.bump(1)
	s := u.NewSession()
	s.Add(c)
	_, err := s.Commit(context.Background())
	require.ErrorIs(t, err, uow.ErrReactionDepth)
}

func TestExecuteRetriesConflicts(t *testing.T) {
	store := memory.New()
	u := newUnitOfWork(store, nil, uow.WithMaxAttempts(3))
	id := seed(t, u)

	attempts := 0
	_, err := u.Execute(context.Background(), func(ctx context.Context, s *uow.Session) error {
		attempts++
		load(t, s, id).bump(1)
		if attempts == 1 {
			// a concurrent writer slips in between read and commit
			other := u.NewSession()
			load(t, other, id).bump(100)
			_, err := other.Commit(ctx)
			require.NoError(t, err)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	s := u.NewSession()
	assert.Equal(t, 101, load(t, s, id).n)
}

func TestExecuteDoesNotRetryDomainErrors(t *testing.T) {
	u := newUnitOfWork(memory.New(), nil)

	attempts := 0
	_, err := u.Execute(context.Background(), func(context.Context, *uow.Session) error {
		attempts++
		return domain.ErrInvalidTransition
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, attempts)
}

func TestCommitIsTraced(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(rec))
	u := newUnitOfWork(memory.New(), nil, uow.WithTracerProvider(tp))

	seed(t, u)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "uow.commit", spans[0].Name())
}
