package circulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/domain"
	"libranexus/internal/uow"
)

type orderState struct {
	RenterID          uuid.UUID   `json:"renter_id"`
	ItemsOwnerID      *uuid.UUID  `json:"items_owner_id,omitempty"`
	Items             []OrderItem `json:"items"`
	Status            OrderStatus `json:"status"`
	PickUpDateTime    *time.Time  `json:"pick_up_date_time,omitempty"`
	PlannedReturnDate *time.Time  `json:"planned_return_date,omitempty"`
	Note              string      `json:"note,omitempty"`
}

// Codec stores orders as JSON documents.
type Codec struct{}

func (Codec) AggregateType() string { return AggregateType }

func (Codec) Encode(a domain.Aggregate) ([]byte, error) {
	o, ok := a.(*Order)
	if !ok {
		return nil, fmt.Errorf("circulation codec can not encode %T", a)
	}

	st := orderState{
		RenterID:          o.renterID,
		Items:             o.items,
		Status:            o.status,
		PickUpDateTime:    o.pickUpDateTime,
		PlannedReturnDate: o.plannedReturnDate,
		Note:              o.note,
	}
	if st.Items == nil {
		st.Items = []OrderItem{}
	}
	if o.itemsOwnerID != uuid.Nil {
		owner := o.itemsOwnerID
		st.ItemsOwnerID = &owner
	}
	return json.Marshal(st)
}

func (Codec) Decode(rec uow.Record) (domain.Aggregate, error) {
	var st orderState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("unmarshal order state: %w", err)
	}
	if !st.Status.Valid() {
		return nil, fmt.Errorf("unknown order status %q", st.Status)
	}
	if (len(st.Items) == 0) != (st.ItemsOwnerID == nil) {
		return nil, fmt.Errorf("order %s: items owner must be set exactly when items are present", rec.ID)
	}
	for _, it := range st.Items {
		if it.OwnerID != *st.ItemsOwnerID {
			return nil, fmt.Errorf("order %s: item %s belongs to %s, not to the items owner %s", rec.ID, it.ItemID, it.OwnerID, *st.ItemsOwnerID)
		}
	}

	o := &Order{
		Entity:            domain.RestoreEntity(rec.ID, rec.CreatedAt, rec.Version),
		renterID:          st.RenterID,
		items:             st.Items,
		status:            st.Status,
		pickUpDateTime:    st.PickUpDateTime,
		plannedReturnDate: st.PlannedReturnDate,
		note:              st.Note,
	}
	if st.ItemsOwnerID != nil {
		o.itemsOwnerID = *st.ItemsOwnerID
	}
	return o, nil
}

// LoadOrder loads an order through the session.
func LoadOrder(ctx context.Context, l uow.Loader, id uuid.UUID) (*Order, error) {
	a, err := l.Load(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{Aggregate: AggregateType, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	o, ok := a.(*Order)
	if !ok {
		return nil, &domain.NotFoundError{Aggregate: AggregateType, ID: id}
	}
	return o, nil
}
