package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"libranexus/internal/catalog"
	"libranexus/internal/eventstore"
	"libranexus/internal/storage/memory"
	"libranexus/internal/uow"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventstore.Event
	failAt map[int64]bool
	down   bool
}

func (p *recordingPublisher) Publish(_ context.Context, e eventstore.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down || p.failAt[e.ID] {
		return errors.New("broker unreachable")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *recordingPublisher) ids() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, len(p.events))
	for i, e := range p.events {
		out[i] = e.ID
	}
	return out
}

// seedJournal commits n new items, one journal entry each.
func seedJournal(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	u := uow.New(store, nil, []uow.Codec{catalog.Codec{}})
	for i := 0; i < n; i++ {
		item, err := catalog.NewItem(time.Now(), "Item", "", uuid.New())
		require.NoError(t, err)
		s := u.NewSession()
		s.Add(item)
		_, err = s.Commit(context.Background())
		require.NoError(t, err)
	}
}

func TestRunOncePublishesInOrderAndCheckpoints(t *testing.T) {
	store := memory.New()
	seedJournal(t, store, 5)
	pub := &recordingPublisher{}
	r := NewRelay("test", store, pub, WithBatchSize(3), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, pub.ids())
	pos, _ := store.Checkpoint(ctx, "test")
	assert.Equal(t, int64(5), pos)
}

func TestFailedPublishKeepsPosition(t *testing.T) {
	store := memory.New()
	seedJournal(t, store, 4)
	pub := &recordingPublisher{failAt: map[int64]bool{3: true}}
	r := NewRelay("test", store, pub, WithBreaker(10, time.Minute))
	ctx := context.Background()

	n, err := r.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	pos, _ := store.Checkpoint(ctx, "test")
	assert.Equal(t, int64(2), pos, "only delivered entries are checkpointed")

	delete(pub.failAt, 3)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3, 4}, pub.ids())
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	store := memory.New()
	seedJournal(t, store, 3)
	pub := &recordingPublisher{down: true}
	r := NewRelay("test", store, pub, WithBreaker(2, 50*time.Millisecond))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := r.RunOnce(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, r.BreakerState())

	_, err := r.RunOnce(ctx)
	require.ErrorIs(t, err, ErrPublisherUnavailable)

	pub.setDown(false)
	require.Eventually(t, func() bool {
		_, err := r.RunOnce(ctx)
		return err == nil
	}, time.Second, 20*time.Millisecond)

	assert.Equal(t, gobreaker.StateClosed, r.BreakerState())
	assert.Equal(t, []int64{1, 2, 3}, pub.ids())
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	store := memory.New()
	seedJournal(t, store, 7)
	pub := &recordingPublisher{}
	r := NewRelay("test", store, pub, WithBatchSize(2), WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.ids()) == 7 }, time.Second, 5*time.Millisecond)

	seedJournal(t, store, 1)
	r.Notify()
	require.Eventually(t, func() bool { return len(pub.ids()) == 8 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNewMessage(t *testing.T) {
	id := uuid.New()
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	e := eventstore.Event{
		ID: 42, AggregateID: id, AggregateType: catalog.AggregateType,
		EventType: catalog.EventItemReserved, EventData: json.RawMessage(`{"x":1}`),
		Version: 3, CreatedAt: at,
	}

	msg, err := NewMessage(e)
	require.NoError(t, err)
	assert.Equal(t, "42", msg.MessageId)
	assert.Equal(t, catalog.EventItemReserved, msg.Type)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, id.String(), msg.Headers["aggregate_id"])

	var decoded eventstore.Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.JSONEq(t, `{"x":1}`, string(decoded.EventData))
}
