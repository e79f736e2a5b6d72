// Package outbox forwards committed journal entries to a message broker.
// Entries are published in journal order and at least once: the checkpoint
// only advances past entries the publisher accepted.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libranexus/internal/eventstore"
	"libranexus/internal/metrics"
)

// ErrPublisherUnavailable is returned while the breaker keeps the publisher
// out of rotation.
var ErrPublisherUnavailable = errors.New("publisher unavailable")

// Source is the journal the relay reads from.
type Source interface {
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]eventstore.Event, error)
	Checkpoint(ctx context.Context, name string) (int64, error)
	SaveCheckpoint(ctx context.Context, name string, position int64) error
}

// Publisher delivers one journal entry to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e eventstore.Event) error
}

type Relay struct {
	name      string
	source    Source
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	batchSize int
	interval  time.Duration
	notify    chan struct{}
	logger    *zap.Logger
	tracer    trace.Tracer

	breakerTimeout  time.Duration
	breakerFailures uint32
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batchSize = n }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) { r.tracer = tp.Tracer("libranexus/outbox") }
}

// WithBreaker opens the breaker after failures consecutive publish errors and
// probes the publisher again after timeout.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(r *Relay) {
		r.breakerFailures = failures
		r.breakerTimeout = timeout
	}
}

// NewRelay creates a relay that tracks its progress under name.
func NewRelay(name string, source Source, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		name:            name,
		source:          source,
		publisher:       publisher,
		batchSize:       100,
		interval:        time.Second,
		notify:          make(chan struct{}, 1),
		logger:          zap.NewNop(),
		tracer:          otel.Tracer("libranexus/outbox"),
		breakerTimeout:  10 * time.Second,
		breakerFailures: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("relay", name))

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-" + name,
		MaxRequests: 1,
		Timeout:     r.breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= r.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("publisher breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return r
}

// Name is the checkpoint key of the relay.
func (r *Relay) Name() string { return r.name }

// BreakerState reports whether the publisher is currently trusted.
func (r *Relay) BreakerState() gobreaker.State { return r.breaker.State() }

// Notify wakes a running relay before its next poll. It never blocks.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// RunOnce publishes the next batch after the checkpoint and returns how many
// entries were delivered. On a publish failure the entries delivered so far
// are checkpointed and the error is returned.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.batch", trace.WithAttributes(attribute.String("relay", r.name)))
	defer span.End()

	from, err := r.source.Checkpoint(ctx, r.name)
	if err != nil {
		metrics.RelayErrorsTotal.WithLabelValues("checkpoint").Inc()
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	events, err := r.source.StreamEvents(ctx, from, r.batchSize)
	if err != nil {
		metrics.RelayErrorsTotal.WithLabelValues("stream").Inc()
		return 0, fmt.Errorf("stream from %d: %w", from, err)
	}
	span.SetAttributes(attribute.Int64("from.id", from), attribute.Int("events", len(events)))

	published := 0
	last := from
	var pubErr error
	for _, e := range events {
		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, r.publisher.Publish(ctx, e)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = fmt.Errorf("%w: %v", ErrPublisherUnavailable, err)
			}
			metrics.RelayErrorsTotal.WithLabelValues("publish").Inc()
			pubErr = fmt.Errorf("publish event %d (%s): %w", e.ID, e.EventType, err)
			break
		}
		published++
		last = e.ID
		metrics.RelayPublishedTotal.Inc()
	}

	if last > from {
		if err := r.source.SaveCheckpoint(ctx, r.name, last); err != nil {
			metrics.RelayErrorsTotal.WithLabelValues("checkpoint").Inc()
			return published, errors.Join(pubErr, fmt.Errorf("save checkpoint %d: %w", last, err))
		}
		metrics.RelayCheckpoint.WithLabelValues(r.name).Set(float64(last))
	}

	span.SetAttributes(attribute.Int("published", published))
	if pubErr != nil {
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, pubErr.Error())
	}
	return published, pubErr
}

// Run polls the journal until ctx is done. A full batch is followed by the
// next one right away.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("relay started", zap.Int("batch_size", r.batchSize), zap.Duration("interval", r.interval))
	for {
		for {
			n, err := r.RunOnce(ctx)
			if n > 0 {
				r.logger.Debug("published batch", zap.Int("events", n))
			}
			if err != nil {
				if errors.Is(err, ErrPublisherUnavailable) {
					r.logger.Debug("publisher unavailable, waiting", zap.Error(err))
				} else {
					r.logger.Warn("relay batch failed", zap.Error(err))
				}
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-r.notify:
		}
	}
}
