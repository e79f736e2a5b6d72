// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libranexus/internal/catalog"
	"libranexus/internal/domain"
	"libranexus/internal/uow"
)

// service implements the Service interface.
type service struct {
	uow    *uow.UnitOfWork
	logger *zap.Logger
}

// NewService creates a new circulation service instance.
func NewService(u *uow.UnitOfWork, logger *zap.Logger) Service {
	return &service{
		uow:    u,
		logger: logger.Named("circulation"),
	}
}

// NewOrderItem takes the snapshot of an item that an order keeps.
func NewOrderItem(item *catalog.Item) OrderItem {
	return OrderItem{ItemID: item.ID(), Name: item.Name(), OwnerID: item.OwnerID()}
}

// CreateOrder starts an empty order for a renter.
func (s *service) CreateOrder(ctx context.Context, renterID uuid.UUID) (*OrderView, error) {
	var order *Order
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		var err error
		order, err = CreateEmpty(s.uow.Clock().Now(), renterID)
		if err != nil {
			return err
		}
		tx.Add(order)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created", zap.Stringer("order_id", order.ID()), zap.Stringer("renter_id", renterID))
	return NewOrderView(order), nil
}

// GetOrder retrieves an order by its ID.
func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderView, error) {
	tx := s.uow.NewSession()
	defer tx.Close()

	order, err := LoadOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return NewOrderView(order), nil
}

// AddItems adds catalog items to the order. Each added item gets reserved
// for the renter in the same commit.
func (s *service) AddItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return fmt.Errorf("%w: no item ids given", domain.ErrInvalidArgument)
	}
	return s.mutate(ctx, id, "add items", func(ctx context.Context, tx uow.Loader, o *Order) error {
		for _, itemID := range itemIDs {
			item, err := catalog.LoadItem(ctx, tx, itemID)
			if err != nil {
				return err
			}
			if err := o.AddItem(NewOrderItem(item)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveItems removes items from the order and releases their reservations.
func (s *service) RemoveItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return fmt.Errorf("%w: no item ids given", domain.ErrInvalidArgument)
	}
	return s.mutate(ctx, id, "remove items", func(_ context.Context, _ uow.Loader, o *Order) error {
		for _, itemID := range itemIDs {
			if err := o.RemoveItem(itemID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) PlaceOrder(ctx context.Context, id uuid.UUID, req PlaceOrderRequest) error {
	return s.mutate(ctx, id, "place", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.Place(s.uow.Clock().Now(), req.PickUpDateTime, req.PlannedReturnDate, req.Note)
	})
}

func (s *service) UpdatePickUpDateTime(ctx context.Context, id uuid.UUID, pickUp time.Time) error {
	return s.mutate(ctx, id, "update pick up date time", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.UpdatePickUpDateTime(s.uow.Clock().Now(), pickUp)
	})
}

func (s *service) ConfirmOrder(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "confirm", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.Confirm()
	})
}

func (s *service) AwaitPickup(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "await pickup", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.AwaitPickup()
	})
}

func (s *service) PickUp(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "pick up", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.PickUp()
	})
}

func (s *service) CompleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "complete", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.Complete()
	})
}

func (s *service) CancelOrder(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "cancel", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.Cancel()
	})
}

func (s *service) ReCreateOrder(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, "re-create", func(_ context.Context, _ uow.Loader, o *Order) error {
		return o.ReCreate()
	})
}

// mutate loads the order, applies fn and commits, retrying on version conflicts.
func (s *service) mutate(ctx context.Context, id uuid.UUID, op string, fn func(ctx context.Context, tx uow.Loader, o *Order) error) error {
	var status OrderStatus
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		order, err := LoadOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, order); err != nil {
			return err
		}
		status = order.Status()
		return nil
	})
	if err != nil {
		s.logger.Debug("order operation rejected", zap.String("op", op), zap.Stringer("order_id", id), zap.Error(err))
		return err
	}

	s.logger.Info("order updated", zap.String("op", op), zap.Stringer("order_id", id), zap.Stringer("status", status))
	return nil
}
