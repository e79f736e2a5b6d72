// Package reaction keeps items in step with the orders that hold them. Every
// order event that concerns items maps to exactly one handler here.
package reaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/domain"
	"libranexus/internal/metrics"
	"libranexus/internal/uow"
)

type handler func(ctx context.Context, l uow.Loader, event domain.Event) error

// Table dispatches order events to item transitions. Events without an entry
// are ignored.
type Table struct {
	policy   catalog.RentPolicy
	logger   *zap.Logger
	handlers map[string]handler
}

var _ uow.Dispatcher = (*Table)(nil)

func NewTable(policy catalog.RentPolicy, logger *zap.Logger) *Table {
	t := &Table{
		policy: policy,
		logger: logger.Named("reaction"),
	}
	t.handlers = map[string]handler{
		circulation.EventItemAddedToOrder:     t.reserve,
		circulation.EventItemRemovedFromOrder: t.cancelReservation,
		circulation.EventOrderConfirmed:       t.rent,
		circulation.EventOrderCompleted:       t.giveBack,
		circulation.EventOrderCanceled:        t.releaseReserved,
	}
	return t
}

// Handles reports whether the table reacts to the given event type.
func (t *Table) Handles(eventType string) bool {
	_, ok := t.handlers[eventType]
	return ok
}

func (t *Table) Dispatch(ctx context.Context, l uow.Loader, event domain.Event) error {
	h, ok := t.handlers[event.EventType()]
	if !ok {
		return nil
	}

	if err := h(ctx, l, event); err != nil {
		metrics.ReactionsTotal.WithLabelValues(event.EventType(), "failed").Inc()
		t.logger.Warn("reaction failed",
			zap.String("event_type", event.EventType()),
			zap.Stringer("order_id", event.AggregateID()),
			zap.Error(err),
		)
		return err
	}
	metrics.ReactionsTotal.WithLabelValues(event.EventType(), "applied").Inc()
	return nil
}

func (t *Table) reserve(ctx context.Context, l uow.Loader, event domain.Event) error {
	e, ok := event.(circulation.ItemAddedToOrder)
	if !ok {
		return unexpected(event)
	}
	item, err := catalog.LoadItem(ctx, l, e.ItemID)
	if err != nil {
		return err
	}
	return item.Reserve(e.RenterID)
}

func (t *Table) cancelReservation(ctx context.Context, l uow.Loader, event domain.Event) error {
	e, ok := event.(circulation.ItemRemovedFromOrder)
	if !ok {
		return unexpected(event)
	}
	item, err := catalog.LoadItem(ctx, l, e.ItemID)
	if err != nil {
		return err
	}
	return item.CancelReservation()
}

// rent hands every item of a confirmed order to the renter. An item already
// rented by the same renter was handed over by an earlier confirmation of this
// order and is left alone.
func (t *Table) rent(ctx context.Context, l uow.Loader, event domain.Event) error {
	e, ok := event.(circulation.OrderConfirmed)
	if !ok {
		return unexpected(event)
	}
	return eachItem(ctx, l, e.ItemIDs, func(item *catalog.Item) error {
		if renter, held := item.RenterID(); held && renter == e.RenterID && item.Status() == catalog.ItemStatusRented {
			return nil
		}
		return item.Rent(e.RenterID, copyTime(e.PlannedReturnDate), t.policy)
	})
}

func (t *Table) giveBack(ctx context.Context, l uow.Loader, event domain.Event) error {
	e, ok := event.(circulation.OrderCompleted)
	if !ok {
		return unexpected(event)
	}
	return eachItem(ctx, l, e.ItemIDs, func(item *catalog.Item) error {
		return item.Return()
	})
}

// releaseReserved cancels the reservations the canceled order's renter holds
// on its items. Items in any other state, or reserved by someone else, are
// not touched.
func (t *Table) releaseReserved(ctx context.Context, l uow.Loader, event domain.Event) error {
	e, ok := event.(circulation.OrderCanceled)
	if !ok {
		return unexpected(event)
	}
	return eachItem(ctx, l, e.ItemIDs, func(item *catalog.Item) error {
		renter, _ := item.RenterID()
		if item.Status() != catalog.ItemStatusReserved || renter != e.RenterID {
			return nil
		}
		return item.CancelReservation()
	})
}

func eachItem(ctx context.Context, l uow.Loader, ids []uuid.UUID, fn func(*catalog.Item) error) error {
	for _, id := range ids {
		item, err := catalog.LoadItem(ctx, l, id)
		if err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func unexpected(event domain.Event) error {
	return fmt.Errorf("unexpected payload %T for %s", event, event.EventType())
}
