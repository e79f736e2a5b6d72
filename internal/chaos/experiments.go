// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/outbox"
	"libranexus/internal/reaction"
	"libranexus/internal/uow"
)

// Target is the rental system the experiments run against: the use cases on
// top of a store with fault injection, and a relay with a breakable broker.
type Target struct {
	Store     *FaultyStore
	Source    outbox.Source
	Publisher *FlakyPublisher
	Relay     *outbox.Relay
	Catalog   catalog.Service
	Orders    circulation.Service

	window          time.Duration
	maxAttempts     int
	breakerFailures uint32
	breakerTimeout  time.Duration
}

type TargetConfig struct {
	Policy catalog.RentPolicy
	// Window is how long each experiment observes the system under fault.
	Window          time.Duration
	MaxAttempts     int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Logger          *zap.Logger
	TracerProvider  trace.TracerProvider
}

// NewTarget wires the use cases to store through a FaultyStore and a relay
// reading source to publisher through a FlakyPublisher.
func NewTarget(store uow.Store, source outbox.Source, publisher outbox.Publisher, cfg TargetConfig) *Target {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 10
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 2 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Second
	}

	faulty := NewFaultyStore(store)
	flaky := NewFlakyPublisher(publisher)
	u := uow.New(faulty, reaction.NewTable(cfg.Policy, cfg.Logger),
		[]uow.Codec{catalog.Codec{}, circulation.Codec{}},
		uow.WithLogger(cfg.Logger),
		uow.WithTracerProvider(cfg.TracerProvider),
		uow.WithMaxAttempts(cfg.MaxAttempts),
	)

	return &Target{
		Store:     faulty,
		Source:    source,
		Publisher: flaky,
		Relay: outbox.NewRelay("chaos", source, flaky,
			outbox.WithBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
			outbox.WithLogger(cfg.Logger),
			outbox.WithTracerProvider(cfg.TracerProvider),
		),
		Catalog: catalog.NewService(u, cfg.Policy, cfg.Logger),
		Orders:  circulation.NewService(u, cfg.Logger),

		window:          cfg.Window,
		maxAttempts:     cfg.MaxAttempts,
		breakerFailures: cfg.BreakerFailures,
		breakerTimeout:  cfg.BreakerTimeout,
	}
}

// RegisterExperiments registers all rental experiments with the engine.
func (ce *Engine) RegisterExperiments(t *Target) {
	ce.RegisterExperiment(ReservationRace(t, 8))
	ce.RegisterExperiment(OrderContention(t, min(5, t.maxAttempts)))
	ce.RegisterExperiment(CommitFailure(t, 3))
	ce.RegisterExperiment(RelayOutage(t, 10))
}

// ReservationRace lets several renters add the same item to their orders at
// the same moment.
func ReservationRace(t *Target, contenders int) Experiment {
	var (
		itemID uuid.UUID
		orders []uuid.UUID
		wins   atomic.Int64
	)

	holders := func(ctx context.Context) ([]*circulation.OrderView, error) {
		var out []*circulation.OrderView
		for _, id := range orders {
			o, err := t.Orders.GetOrder(ctx, id)
			if err != nil {
				return nil, err
			}
			if slices.ContainsFunc(o.Items, func(it circulation.OrderItem) bool { return it.ItemID == itemID }) {
				out = append(out, o)
			}
		}
		return out, nil
	}

	return Experiment{
		Name:       "concurrent-reservation-race",
		Hypothesis: "Only one of several renters adding the same item at once gets it",
		SteadyState: []Metric{
			{
				Name: "orders_holding_item",
				Query: func(ctx context.Context) (float64, error) {
					h, err := holders(ctx)
					return float64(len(h)), err
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Observe: []Metric{
			{
				Name:      "successful_requests",
				Query:     func(context.Context) (float64, error) { return float64(wins.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name: "item_reserved_by_winner",
				Query: func(ctx context.Context) (float64, error) {
					h, err := holders(ctx)
					if err != nil || len(h) != 1 {
						return 0, err
					}
					item, err := t.Catalog.GetItem(ctx, itemID)
					if err != nil {
						return 0, err
					}
					if item.Status == catalog.ItemStatusReserved && item.RenterID != nil && *item.RenterID == h[0].RenterID {
						return 1, nil
					}
					return 0, nil
				},
				Threshold: Threshold{Operator: "==", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:    "latency",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.SetLatency(2 * time.Millisecond); return nil },
			},
			{
				Type:   "load",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					wins.Store(0)
					item, err := t.Catalog.AddItem(ctx, catalog.AddItemRequest{Name: "Contested copy", OwnerID: uuid.New()})
					if err != nil {
						return err
					}
					itemID = item.ID

					orders = orders[:0]
					for range contenders {
						o, err := t.Orders.CreateOrder(ctx, uuid.New())
						if err != nil {
							return err
						}
						orders = append(orders, o.ID)
					}

					var wg sync.WaitGroup
					start := make(chan struct{})
					for _, id := range orders {
						wg.Add(1)
						go func() {
							defer wg.Done()
							<-start
							if err := t.Orders.AddItems(ctx, id, []uuid.UUID{itemID}); err == nil {
								wins.Add(1)
							}
						}()
					}
					close(start)
					wg.Wait()
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:    "latency",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.SetLatency(0); return nil },
			},
		},
		Validation: []Assertion{
			{Metric: "orders_holding_item", Condition: equals(1), Message: "Exactly one order should hold the item"},
			{Metric: "successful_requests", Condition: equals(1), Message: "Exactly one request should succeed"},
			{Metric: "item_reserved_by_winner", Condition: equals(1), Message: "The item should be reserved for the winning renter"},
		},
		Duration: t.window,
	}
}

// OrderContention adds different items to one order from concurrent
// requests. Every request loses at most one version check per competing
// commit, so items must not exceed the retry budget.
func OrderContention(t *Target, items int) Experiment {
	var (
		orderID  uuid.UUID
		renterID uuid.UUID
		itemIDs  []uuid.UUID
		failures atomic.Int64
	)

	return Experiment{
		Name:       "order-commit-contention",
		Hypothesis: "Concurrent changes to one order are retried until every one of them lands",
		SteadyState: []Metric{
			{
				Name: "failed_requests",
				Query: func(context.Context) (float64, error) {
					return float64(failures.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Observe: []Metric{
			{
				Name: "order_items",
				Query: func(ctx context.Context) (float64, error) {
					if orderID == uuid.Nil {
						return 0, nil
					}
					o, err := t.Orders.GetOrder(ctx, orderID)
					if err != nil {
						return 0, err
					}
					return float64(len(o.Items)), nil
				},
				Threshold: Threshold{Operator: "==", Value: float64(items)},
			},
			{
				Name: "reserved_items",
				Query: func(ctx context.Context) (float64, error) {
					n := 0
					for _, id := range itemIDs {
						item, err := t.Catalog.GetItem(ctx, id)
						if err != nil {
							return 0, err
						}
						if item.Status == catalog.ItemStatusReserved && item.RenterID != nil && *item.RenterID == renterID {
							n++
						}
					}
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "==", Value: float64(items)},
			},
		},
		Method: []Action{
			{
				Type:    "latency",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.SetLatency(2 * time.Millisecond); return nil },
			},
			{
				Type:   "load",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					failures.Store(0)
					owner := uuid.New()
					itemIDs = itemIDs[:0]
					for i := range items {
						item, err := t.Catalog.AddItem(ctx, catalog.AddItemRequest{Name: fmt.Sprintf("Box set volume %d", i+1), OwnerID: owner})
						if err != nil {
							return err
						}
						itemIDs = append(itemIDs, item.ID)
					}
					renterID = uuid.New()
					o, err := t.Orders.CreateOrder(ctx, renterID)
					if err != nil {
						return err
					}
					orderID = o.ID

					var (
						wg   sync.WaitGroup
						mu   sync.Mutex
						errs []error
					)
					start := make(chan struct{})
					for _, id := range itemIDs {
						wg.Add(1)
						go func() {
							defer wg.Done()
							<-start
							if err := t.Orders.AddItems(ctx, orderID, []uuid.UUID{id}); err != nil {
								failures.Add(1)
								mu.Lock()
								errs = append(errs, err)
								mu.Unlock()
							}
						}()
					}
					close(start)
					wg.Wait()
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{
			{
				Type:    "latency",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.SetLatency(0); return nil },
			},
		},
		Validation: []Assertion{
			{Metric: "failed_requests", Condition: equals(0), Message: "No request should give up"},
			{Metric: "order_items", Condition: equals(float64(items)), Message: "The order should hold every item"},
			{Metric: "reserved_items", Condition: equals(float64(items)), Message: "Every item should be reserved for the renter"},
		},
		Duration: t.window,
	}
}

// CommitFailure breaks every commit while a batch rental runs.
func CommitFailure(t *Target, items int) Experiment {
	var (
		itemIDs  []uuid.UUID
		head     int64
		injected int64
	)

	return Experiment{
		Name:       "commit-failure-injection",
		Hypothesis: "A failed commit leaves neither item changes nor journal entries behind",
		SteadyState: []Metric{
			{
				Name: "rented_items",
				Query: func(ctx context.Context) (float64, error) {
					n := 0
					for _, id := range itemIDs {
						item, err := t.Catalog.GetItem(ctx, id)
						if err != nil {
							return 0, err
						}
						if item.Status == catalog.ItemStatusRented {
							n++
						}
					}
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Observe: []Metric{
			{
				Name: "journal_growth",
				Query: func(ctx context.Context) (float64, error) {
					if head == 0 {
						return 0, nil
					}
					n, err := countAfter(ctx, t.Source, head)
					return float64(n), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "rejected_commits",
				Query: func(context.Context) (float64, error) {
					_, now := t.Store.Commits()
					return float64(now - injected), nil
				},
				Threshold: Threshold{Operator: ">=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "load",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					owner := uuid.New()
					itemIDs = itemIDs[:0]
					for i := range items {
						item, err := t.Catalog.AddItem(ctx, catalog.AddItemRequest{Name: fmt.Sprintf("Fragile copy %d", i+1), OwnerID: owner})
						if err != nil {
							return err
						}
						itemIDs = append(itemIDs, item.ID)
					}
					var err error
					head, err = lastID(ctx, t.Source)
					_, injected = t.Store.Commits()
					return err
				},
			},
			{
				Type:    "failure",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.FailCommits(true); return nil },
			},
			{
				Type:   "load",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					err := t.Catalog.RentItems(ctx, itemIDs, uuid.New(), nil)
					if err == nil {
						return errors.New("rent succeeded although every commit fails")
					}
					if !errors.Is(err, ErrInjected) {
						return err
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:    "failure",
				Target:  "store",
				Execute: func(context.Context) error { t.Store.FailCommits(false); return nil },
			},
		},
		Validation: []Assertion{
			{Metric: "rented_items", Condition: equals(0), Message: "No item should be rented"},
			{Metric: "journal_growth", Condition: equals(0), Message: "The journal should not grow"},
			{Metric: "rejected_commits", Condition: func(v float64) bool { return v >= 1 }, Message: "The fault should have been hit"},
		},
		Duration: t.window,
	}
}

// RelayOutage takes the broker away while items are being written and brings
// it back afterwards.
func RelayOutage(t *Target, writes int) Experiment {
	return Experiment{
		Name:       "journal-relay-outage",
		Hypothesis: "The relay stops calling a dead broker and delivers the backlog in order once it returns",
		SteadyState: []Metric{
			{
				Name: "breaker_closed",
				Query: func(context.Context) (float64, error) {
					if t.Relay.BreakerState() == gobreaker.StateClosed {
						return 1, nil
					}
					return 0, nil
				},
				Threshold: Threshold{Operator: "==", Value: 1},
			},
		},
		Observe: []Metric{
			{
				Name: "unpublished_entries",
				Query: func(ctx context.Context) (float64, error) {
					pos, err := t.Source.Checkpoint(ctx, t.Relay.Name())
					if err != nil {
						return 0, err
					}
					n, err := countAfter(ctx, t.Source, pos)
					return float64(n), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "out_of_order_deliveries",
				Query: func(context.Context) (float64, error) {
					_, n := t.Publisher.Stats()
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:    "outage",
				Target:  "broker",
				Execute: func(context.Context) error { t.Publisher.SetDown(true); return nil },
			},
			{
				Type:   "load",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					owner := uuid.New()
					for i := range writes {
						if _, err := t.Catalog.AddItem(ctx, catalog.AddItemRequest{Name: fmt.Sprintf("Backlog copy %d", i+1), OwnerID: owner}); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Type:   "load",
				Target: "relay",
				Execute: func(ctx context.Context) error {
					for range t.breakerFailures + 1 {
						_, _ = t.Relay.RunOnce(ctx)
					}
					if t.Relay.BreakerState() != gobreaker.StateOpen {
						return fmt.Errorf("breaker is %s after %d failed publishes", t.Relay.BreakerState(), t.breakerFailures)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:    "outage",
				Target:  "broker",
				Execute: func(context.Context) error { t.Publisher.SetDown(false); return nil },
			},
			{
				Type:    "load",
				Target:  "relay",
				Execute: func(ctx context.Context) error { return drain(ctx, t.Relay, t.breakerTimeout) },
			},
		},
		Validation: []Assertion{
			{Metric: "unpublished_entries", Condition: equals(0), Message: "The backlog should be published"},
			{Metric: "out_of_order_deliveries", Condition: equals(0), Message: "Entries should arrive in journal order"},
			{Metric: "breaker_closed", Condition: equals(1), Message: "The breaker should close again"},
		},
		Duration: t.window,
	}
}

// drain runs the relay until it finds nothing left, waiting for the breaker
// to let requests through again.
func drain(ctx context.Context, r *outbox.Relay, breakerTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*breakerTimeout+5*time.Second)
	defer cancel()

	wait := max(breakerTimeout/4, 10*time.Millisecond)
	for {
		n, err := r.RunOnce(ctx)
		if err == nil && n == 0 {
			return nil
		}
		if err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay did not catch up: %w", err)
		case <-time.After(wait):
		}
	}
}

const scanBatch = 500

// countAfter counts journal entries with ids above from.
func countAfter(ctx context.Context, s outbox.Source, from int64) (int, error) {
	n := 0
	for {
		events, err := s.StreamEvents(ctx, from, scanBatch)
		if err != nil {
			return 0, err
		}
		n += len(events)
		if len(events) < scanBatch {
			return n, nil
		}
		from = events[len(events)-1].ID
	}
}

// lastID returns the id of the newest journal entry.
func lastID(ctx context.Context, s outbox.Source) (int64, error) {
	var last int64
	for {
		events, err := s.StreamEvents(ctx, last, scanBatch)
		if err != nil {
			return 0, err
		}
		if len(events) > 0 {
			last = events[len(events)-1].ID
		}
		if len(events) < scanBatch {
			return last, nil
		}
	}
}

func equals(want float64) func(float64) bool {
	return func(v float64) bool { return v == want }
}
