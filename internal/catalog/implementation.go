// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"libranexus/internal/domain"
	"libranexus/internal/uow"
)

// service implements the Service interface.
type service struct {
	uow    *uow.UnitOfWork
	policy RentPolicy
	logger *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(u *uow.UnitOfWork, policy RentPolicy, logger *zap.Logger) Service {
	return &service{
		uow:    u,
		policy: policy,
		logger: logger.Named("catalog"),
	}
}

// AddItem creates a new item in the catalog.
func (s *service) AddItem(ctx context.Context, req AddItemRequest) (*ItemView, error) {
	var item *Item
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		now := s.uow.Clock().Now()

		var err error
		if req.Book != nil {
			item, err = NewBook(now, req.Name, req.Description, req.OwnerID, *req.Book)
		} else {
			item, err = NewItem(now, req.Name, req.Description, req.OwnerID)
		}
		if err != nil {
			return err
		}

		tx.Add(item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item added", zap.Stringer("item_id", item.ID()), zap.Stringer("owner_id", item.OwnerID()))
	return NewItemView(item), nil
}

// GetItem retrieves an item by its ID.
func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*ItemView, error) {
	tx := s.uow.NewSession()
	defer tx.Close()

	item, err := LoadItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return NewItemView(item), nil
}

// ReserveItem holds an available item for a renter.
func (s *service) ReserveItem(ctx context.Context, id, renterID uuid.UUID) error {
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		item, err := LoadItem(ctx, tx, id)
		if err != nil {
			return err
		}
		return item.Reserve(renterID)
	})
	return err
}

// CancelReservation releases a reserved item.
func (s *service) CancelReservation(ctx context.Context, id uuid.UUID) error {
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		item, err := LoadItem(ctx, tx, id)
		if err != nil {
			return err
		}
		return item.CancelReservation()
	})
	return err
}

// RentItems rents all given items to one renter, or none of them.
func (s *service) RentItems(ctx context.Context, ids []uuid.UUID, renterID uuid.UUID, plannedReturnDate *time.Time) error {
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		if plannedReturnDate != nil && !domain.DateOf(*plannedReturnDate).After(domain.DateOf(s.uow.Clock().Now())) {
			return fmt.Errorf("%w: planned return date %s", domain.ErrPastDateTime, plannedReturnDate.Format(time.DateOnly))
		}

		items, err := s.loadAll(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := item.Rent(renterID, plannedReturnDate, s.policy); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.logger.Info("items rented", zap.Int("count", len(ids)), zap.Stringer("renter_id", renterID))
	}
	return err
}

// ReturnItems returns all given items, or none of them.
func (s *service) ReturnItems(ctx context.Context, ids []uuid.UUID) error {
	_, err := s.uow.Execute(ctx, func(ctx context.Context, tx *uow.Session) error {
		items, err := s.loadAll(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := item.Return(); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.logger.Info("items returned", zap.Int("count", len(ids)))
	}
	return err
}

// loadAll loads every id and reports all missing ones together.
func (s *service) loadAll(ctx context.Context, tx uow.Loader, ids []uuid.UUID) ([]*Item, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no item ids given", domain.ErrInvalidArgument)
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	items := make([]*Item, 0, len(ids))
	var missing []uuid.UUID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		item, err := LoadItem(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: items %v", domain.ErrNotFound, missing)
	}
	return items, nil
}
