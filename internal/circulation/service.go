// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the order use cases.
type Service interface {
	CreateOrder(ctx context.Context, renterID uuid.UUID) (*OrderView, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*OrderView, error)
	AddItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) error
	RemoveItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) error
	PlaceOrder(ctx context.Context, id uuid.UUID, req PlaceOrderRequest) error
	UpdatePickUpDateTime(ctx context.Context, id uuid.UUID, pickUp time.Time) error
	ConfirmOrder(ctx context.Context, id uuid.UUID) error
	AwaitPickup(ctx context.Context, id uuid.UUID) error
	PickUp(ctx context.Context, id uuid.UUID) error
	CompleteOrder(ctx context.Context, id uuid.UUID) error
	CancelOrder(ctx context.Context, id uuid.UUID) error
	ReCreateOrder(ctx context.Context, id uuid.UUID) error
}

type PlaceOrderRequest struct {
	PickUpDateTime    time.Time
	PlannedReturnDate *time.Time
	Note              string
}

// OrderView is the detail representation of an order.
type OrderView struct {
	ID                uuid.UUID   `json:"order_id"`
	Items             []OrderItem `json:"items"`
	RenterID          uuid.UUID   `json:"renter_id"`
	ItemsOwnerID      *uuid.UUID  `json:"items_owner_id,omitempty"`
	Status            OrderStatus `json:"status"`
	PickUpDateTime    *time.Time  `json:"pick_up_date_time,omitempty"`
	PlannedReturnDate *time.Time  `json:"planned_return_date,omitempty"`
	Note              string      `json:"note,omitempty"`
	Version           int         `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
}

func NewOrderView(o *Order) *OrderView {
	v := &OrderView{
		ID:        o.ID(),
		Items:     o.Items(),
		RenterID:  o.renterID,
		Status:    o.status,
		Note:      o.note,
		Version:   o.Version(),
		CreatedAt: o.CreatedAt(),
	}
	if v.Items == nil {
		v.Items = []OrderItem{}
	}
	if owner, ok := o.ItemsOwnerID(); ok {
		v.ItemsOwnerID = &owner
	}
	if t, ok := o.PickUpDateTime(); ok {
		v.PickUpDateTime = &t
	}
	if d, ok := o.PlannedReturnDate(); ok {
		v.PlannedReturnDate = &d
	}
	return v
}
