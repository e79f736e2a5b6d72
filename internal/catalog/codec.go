package catalog

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

// itemState is the stored form of an item. Pending events are not part of it.
type itemState struct {
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	OwnerID           uuid.UUID    `json:"owner_id"`
	RenterID          *uuid.UUID   `json:"renter_id,omitempty"`
	PlannedReturnDate *time.Time   `json:"planned_return_date,omitempty"`
	Status            ItemStatus   `json:"status"`
	Book              *BookDetails `json:"book,omitempty"`
}

// Codec stores items as JSON documents.
type Codec struct{}

func (Codec) AggregateType() string { return AggregateType }

func (Codec) Encode(a domain.Aggregate) ([]byte, error) {
	item, ok := a.(*Item)
	if !ok {
		return nil, fmt.Errorf("catalog codec can not encode %T", a)
	}

	st := itemState{
		Name:              item.name,
		Description:       item.description,
		OwnerID:           item.ownerID,
		PlannedReturnDate: item.plannedReturnDate,
		Status:            item.status,
		Book:              item.book,
	}
	if item.renterID != uuid.Nil {
		renter := item.renterID
		st.RenterID = &renter
	}
	return json.Marshal(st)
}

func (Codec) Decode(rec uow.Record) (domain.Aggregate, error) {
	var st itemState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return nil, fmt.Errorf("unmarshal item state: %w", err)
	}
	switch st.Status {
	case ItemStatusAvailable, ItemStatusReserved, ItemStatusNotAvailable:
	default:
		return nil, fmt.Errorf("unknown item status %q", st.Status)
	}
	held := st.Status == ItemStatusReserved || st.Status == ItemStatusNotAvailable
	if held != (st.RenterID != nil) {
		return nil, fmt.Errorf("item %s: renter must be set exactly when the item is %s or %s", rec.ID, ItemStatusReserved, ItemStatusNotAvailable)
	}

	item := &Item{
		Entity:            domain.RestoreEntity(rec.ID, rec.CreatedAt, rec.Version),
		name:              st.Name,
		description:       st.Description,
		ownerID:           st.OwnerID,
		plannedReturnDate: st.PlannedReturnDate,
		status:            st.Status,
		book:              st.Book,
	}
	if st.RenterID != nil {
		item.renterID = *st.RenterID
	}
	return item, nil
}

// LoadItem loads an item through the session.
func LoadItem(ctx context.Context, l uow.Loader, id uuid.UUID) (*Item, error) {
	a, err := l.Load(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{Aggregate: AggregateType, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}
	item, ok := a.(*Item)
	if !ok {
		return nil, &domain.NotFoundError{Aggregate: AggregateType, ID: id}
	}
	return item, nil
}
