// internal/domain/entity.go
package domain

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of a state change raised by an aggregate.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
}

// Aggregate is a consistency boundary loaded, mutated and saved as one unit.
// Implementations embed Entity.
type Aggregate interface {
	ID() uuid.UUID
	CreatedAt() time.Time
	Version() int
	AggregateType() string
	PendingEvents() []Event
	DrainEvents() []Event
	base() *Entity
}

// raiseSeq orders events raised by different aggregates in the same process.
var raiseSeq atomic.Uint64

type raised struct {
	seq   uint64
	event Event
}

// Entity holds identity, creation time, the persisted version and the queue of
// events raised since the last drain. The queue is never persisted.
type Entity struct {
	id        uuid.UUID
	createdAt time.Time
	version   int
	pending   []raised
}

// NewEntity assigns a fresh identity.
func NewEntity(now time.Time) Entity {
	return Entity{id: uuid.New(), createdAt: now.UTC()}
}

// RestoreEntity rebuilds the base of an aggregate read from storage.
func RestoreEntity(id uuid.UUID, createdAt time.Time, version int) Entity {
	return Entity{id: id, createdAt: createdAt.UTC(), version: version}
}

func (e *Entity) ID() uuid.UUID        { return e.id }
func (e *Entity) CreatedAt() time.Time { return e.createdAt }

// Version is the version the aggregate was last loaded or saved with. Zero means
// it has never been saved.
func (e *Entity) Version() int { return e.version }

// Raise appends an event to the pending queue.
func (e *Entity) Raise(event Event) {
	e.pending = append(e.pending, raised{seq: raiseSeq.Add(1), event: event})
}

// PendingEvents returns the queued events without clearing them.
func (e *Entity) PendingEvents() []Event {
	events := make([]Event, 0, len(e.pending))
	for _, r := range e.pending {
		events = append(events, r.event)
	}
	return events
}

// DrainEvents returns the queued events and clears the queue.
func (e *Entity) DrainEvents() []Event {
	events := e.PendingEvents()
	e.pending = nil
	return events
}

func (e *Entity) base() *Entity { return e }

// Drained is an event taken from an aggregate's queue together with the
// aggregate it came from.
type Drained struct {
	Event            Event
	AggregateType    string
	AggregateVersion int
}

// DrainInOrder empties the queues of all given aggregates and returns their
// events in the order they were raised.
func DrainInOrder(aggregates []Aggregate) []Drained {
	type entry struct {
		raised
		aggregate Aggregate
	}
	var all []entry
	for _, a := range aggregates {
		b := a.base()
		for _, r := range b.pending {
			all = append(all, entry{raised: r, aggregate: a})
		}
		b.pending = nil
	}
	slices.SortFunc(all, func(x, y entry) int {
		switch {
		case x.seq < y.seq:
			return -1
		case x.seq > y.seq:
			return 1
		}
		return 0
	})

	out := make([]Drained, 0, len(all))
	for _, e := range all {
		out = append(out, Drained{
			Event:            e.event,
			AggregateType:    e.aggregate.AggregateType(),
			AggregateVersion: e.aggregate.Version(),
		})
	}
	return out
}

// HasPendingEvents reports whether the aggregate raised events since the last drain.
func HasPendingEvents(a Aggregate) bool {
	return len(a.base().pending) > 0
}

// SetVersion records the version written by the persistence boundary.
func SetVersion(a Aggregate, version int) {
	a.base().version = version
}
