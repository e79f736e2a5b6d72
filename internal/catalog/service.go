// internal/catalog/service.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the item use cases.
type Service interface {
	AddItem(ctx context.Context, req AddItemRequest) (*ItemView, error)
	GetItem(ctx context.Context, id uuid.UUID) (*ItemView, error)
	ReserveItem(ctx context.Context, id, renterID uuid.UUID) error
	CancelReservation(ctx context.Context, id uuid.UUID) error
	RentItems(ctx context.Context, ids []uuid.UUID, renterID uuid.UUID, plannedReturnDate *time.Time) error
	ReturnItems(ctx context.Context, ids []uuid.UUID) error
}

// AddItemRequest describes a new item. Book is optional.
type AddItemRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	OwnerID     uuid.UUID    `json:"owner_id"`
	Book        *BookDetails `json:"book,omitempty"`
}

// ItemView is the read representation of an item.
type ItemView struct {
	ID                uuid.UUID    `json:"item_id"`
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	OwnerID           uuid.UUID    `json:"owner_id"`
	RenterID          *uuid.UUID   `json:"renter_id,omitempty"`
	Status            ItemStatus   `json:"status"`
	PlannedReturnDate *time.Time   `json:"planned_return_date,omitempty"`
	Book              *BookDetails `json:"book,omitempty"`
	Version           int          `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
}

// NewItemView copies the readable state of an item.
func NewItemView(i *Item) *ItemView {
	v := &ItemView{
		ID:          i.ID(),
		Name:        i.name,
		Description: i.description,
		OwnerID:     i.ownerID,
		Status:      i.status,
		Version:     i.Version(),
		CreatedAt:   i.CreatedAt(),
	}
	if renter, ok := i.RenterID(); ok {
		v.RenterID = &renter
	}
	if d, ok := i.PlannedReturnDate(); ok {
		v.PlannedReturnDate = &d
	}
	if b, ok := i.Book(); ok {
		v.Book = &b
	}
	return v
}
