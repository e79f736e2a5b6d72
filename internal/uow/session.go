package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libranexus/internal/domain"
	"libranexus/internal/eventstore"
	"libranexus/internal/metrics"
)

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrReactionDepth = errors.New("reaction depth exceeded")
	ErrUnknownType   = errors.New("unknown aggregate type")
)

// Loader gives reactions and use cases access to the aggregates of one session.
type Loader interface {
	Load(ctx context.Context, id uuid.UUID) (domain.Aggregate, error)
	Add(a domain.Aggregate)
}

// Dispatcher routes an event to the reaction that handles it. Reactions run
// inside the committing transaction and may load and mutate other aggregates
// through l.
type Dispatcher interface {
	Dispatch(ctx context.Context, l Loader, event domain.Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, l Loader, event domain.Event) error

func (f DispatcherFunc) Dispatch(ctx context.Context, l Loader, event domain.Event) error {
	return f(ctx, l, event)
}

// Observer is notified with the journal entries of a commit after it succeeded.
type Observer func(ctx context.Context, events []eventstore.Event)

// UnitOfWork creates sessions bound to one store and one reaction table.
type UnitOfWork struct {
	store       Store
	codecs      map[string]Codec
	dispatcher  Dispatcher
	observers   []Observer
	clock       domain.Clock
	logger      *zap.Logger
	tracer      trace.Tracer
	maxRounds   int
	maxAttempts int
}

type Option func(*UnitOfWork)

// WithObserver registers a post-commit observer.
func WithObserver(o Observer) Option {
	return func(u *UnitOfWork) { u.observers = append(u.observers, o) }
}

func WithClock(c domain.Clock) Option {
	return func(u *UnitOfWork) { u.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(u *UnitOfWork) { u.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(u *UnitOfWork) { u.tracer = tp.Tracer("libranexus/uow") }
}

// WithMaxRounds bounds how many flush and dispatch rounds one commit may take.
func WithMaxRounds(n int) Option {
	return func(u *UnitOfWork) { u.maxRounds = n }
}

// WithMaxAttempts sets how often Execute runs a use case that keeps losing
// optimistic concurrency checks.
func WithMaxAttempts(n int) Option {
	return func(u *UnitOfWork) { u.maxAttempts = n }
}

func New(store Store, dispatcher Dispatcher, codecs []Codec, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store:       store,
		codecs:      make(map[string]Codec, len(codecs)),
		dispatcher:  dispatcher,
		clock:       domain.SystemClock{},
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("libranexus/uow"),
		maxRounds:   16,
		maxAttempts: 3,
	}
	for _, c := range codecs {
		u.codecs[c.AggregateType()] = c
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Clock returns the clock used to stamp commits.
func (u *UnitOfWork) Clock() domain.Clock { return u.clock }

// NewSession starts an empty, single-use session.
func (u *UnitOfWork) NewSession() *Session {
	return &Session{
		uow:     u,
		tracked: make(map[uuid.UUID]domain.Aggregate),
	}
}

// Execute runs fn in a fresh session and commits it. The whole use case is
// repeated while the commit fails with domain.ErrConcurrencyConflict.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, s *Session) error) (int, error) {
	return Retry(ctx, u.maxAttempts, func(ctx context.Context) (int, error) {
		s := u.NewSession()
		if err := fn(ctx, s); err != nil {
			s.Close()
			return 0, err
		}
		return s.Commit(ctx)
	})
}

// Session tracks the aggregates of one use case and commits them together.
// A session is not safe for concurrent use.
type Session struct {
	uow     *UnitOfWork
	tracked map[uuid.UUID]domain.Aggregate
	order   []uuid.UUID
	tx      Tx
	closed  bool
}

// Add tracks a newly created aggregate. Adding an id that is already tracked,
// or adding to a closed session, has no effect.
func (s *Session) Add(a domain.Aggregate) {
	if s.closed {
		return
	}
	if _, ok := s.tracked[a.ID()]; ok {
		return
	}
	s.tracked[a.ID()] = a
	s.order = append(s.order, a.ID())
}

// Load returns the tracked instance of id, reading it from the store on first
// use. During commit reads go through the open transaction.
func (s *Session) Load(ctx context.Context, id uuid.UUID) (domain.Aggregate, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if a, ok := s.tracked[id]; ok {
		return a, nil
	}

	var (
		rec Record
		err error
	)
	if s.tx != nil {
		rec, err = s.tx.Get(ctx, id)
	} else {
		rec, err = s.uow.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	codec, ok := s.uow.codecs[rec.AggregateType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, rec.AggregateType)
	}
	a, err := codec.Decode(rec)
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", rec.AggregateType, id, err)
	}

	s.tracked[id] = a
	s.order = append(s.order, id)
	return a, nil
}

// Close discards the session without writing anything.
func (s *Session) Close() {
	s.closed = true
	s.tracked = nil
	s.order = nil
}

// Commit writes every changed aggregate, runs the reactions to their events
// and appends all events to the journal in one transaction. It returns the
// number of aggregate versions written. A context cancelled before Commit is
// called aborts it; once started, the commit ignores cancellation. The
// session is closed afterwards whatever the outcome.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return 0, fmt.Errorf("commit canceled: %w", err)
	}

	ctx, span := s.uow.tracer.Start(context.WithoutCancel(ctx), "uow.commit")
	defer span.End()

	writes, events, err := s.commit(ctx)
	s.Close()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			metrics.CommitsTotal.WithLabelValues("conflict").Inc()
			s.uow.logger.Warn("commit lost optimistic concurrency check", zap.Error(err))
		} else {
			metrics.CommitsTotal.WithLabelValues("failed").Inc()
			s.uow.logger.Debug("commit rolled back", zap.Error(err))
		}
		return 0, err
	}

	span.SetAttributes(
		attribute.Int("commit.writes", writes),
		attribute.Int("commit.events", len(events)),
	)
	metrics.CommitsTotal.WithLabelValues("committed").Inc()
	metrics.AggregateWritesTotal.Add(float64(writes))
	for _, e := range events {
		metrics.EventsRaisedTotal.WithLabelValues(e.AggregateType, e.EventType).Inc()
	}
	s.uow.logger.Debug("commit succeeded", zap.Int("writes", writes), zap.Int("events", len(events)))

	for _, observe := range s.uow.observers {
		observe(ctx, events)
	}
	return writes, nil
}

func (s *Session) commit(ctx context.Context) (int, []eventstore.Event, error) {
	tx, err := s.uow.store.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx

	committed := false
	defer func() {
		s.tx = nil
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil {
			s.uow.logger.Error("rollback failed", zap.Error(err))
		}
	}()

	now := s.uow.clock.Now()
	writes := 0
	var journal []eventstore.Event

	for round := 0; ; round++ {
		dirty := s.dirty()
		if len(dirty) == 0 {
			break
		}
		if round == s.uow.maxRounds {
			return 0, nil, fmt.Errorf("%w: still changing after %d rounds", ErrReactionDepth, round)
		}

		for _, a := range dirty {
			if err := s.save(ctx, tx, a, now); err != nil {
				return 0, nil, err
			}
			writes++
		}

		for _, d := range domain.DrainInOrder(s.aggregates()) {
			e, err := eventstore.FromDomain(d, now)
			if err != nil {
				return 0, nil, err
			}
			journal = append(journal, e)

			if s.uow.dispatcher == nil {
				continue
			}
			if err := s.uow.dispatcher.Dispatch(ctx, s, d.Event); err != nil {
				return 0, nil, fmt.Errorf("react to %s of %s %s: %w", d.Event.EventType(), d.AggregateType, d.Event.AggregateID(), err)
			}
		}
	}

	if err := tx.Append(ctx, journal); err != nil {
		return 0, nil, fmt.Errorf("append journal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return writes, journal, nil
}

func (s *Session) save(ctx context.Context, tx Tx, a domain.Aggregate, now time.Time) error {
	codec, ok := s.uow.codecs[a.AggregateType()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, a.AggregateType())
	}
	state, err := codec.Encode(a)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", a.AggregateType(), a.ID(), err)
	}

	rec := Record{
		ID:            a.ID(),
		AggregateType: a.AggregateType(),
		Version:       a.Version() + 1,
		State:         state,
		CreatedAt:     a.CreatedAt(),
		UpdatedAt:     now,
	}
	if err := tx.Put(ctx, rec, a.Version()); err != nil {
		return fmt.Errorf("save %s %s at version %d: %w", rec.AggregateType, rec.ID, a.Version(), err)
	}
	domain.SetVersion(a, rec.Version)
	return nil
}

// dirty returns aggregates that were never saved or raised events since.
func (s *Session) dirty() []domain.Aggregate {
	var out []domain.Aggregate
	for _, id := range s.order {
		a := s.tracked[id]
		if a.Version() == 0 || domain.HasPendingEvents(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Session) aggregates() []domain.Aggregate {
	out := make([]domain.Aggregate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tracked[id])
	}
	return out
}
