// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/domain"
)

// AggregateType identifies orders in storage and in the event journal.
const AggregateType = "order"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPlaced         OrderStatus = "PLACED"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusAwaitingPickup OrderStatus = "AWAITING_PICKUP"
	OrderStatusPickedUp       OrderStatus = "PICKED_UP"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCanceled       OrderStatus = "CANCELED"

	// Reserved for later use; no operation enters these states.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusOnHold     OrderStatus = "ON_HOLD"
)

func (s OrderStatus) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPending, OrderStatusPlaced, OrderStatusConfirmed,
		OrderStatusAwaitingPickup, OrderStatusPickedUp, OrderStatusCompleted, OrderStatusCanceled,
		OrderStatusProcessing, OrderStatusFailed, OrderStatusOnHold:
		return true
	}
	return false
}

// OrderItem is the order's own copy of the item it refers to.
type OrderItem struct {
	ItemID  uuid.UUID `json:"item_id"`
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"owner_id"`
}

// Order groups items of one owner that a renter wants to borrow together.
type Order struct {
	domain.Entity

	renterID          uuid.UUID
	itemsOwnerID      uuid.UUID
	items             []OrderItem
	status            OrderStatus
	pickUpDateTime    *time.Time
	plannedReturnDate *time.Time
	note              string
}

// CreateEmpty starts an order without items and raises OrderCreated.
func CreateEmpty(now time.Time, renterID uuid.UUID) (*Order, error) {
	if renterID == uuid.Nil {
		return nil, fmt.Errorf("%w: order renter is required", domain.ErrInvalidArgument)
	}

	o := &Order{
		Entity:   domain.NewEntity(now),
		renterID: renterID,
		status:   OrderStatusCreated,
	}
	o.Raise(OrderCreated{OrderID: o.ID(), RenterID: renterID})
	return o, nil
}

func (o *Order) AggregateType() string { return AggregateType }
func (o *Order) RenterID() uuid.UUID   { return o.renterID }
func (o *Order) Status() OrderStatus   { return o.status }
func (o *Order) Note() string          { return o.note }

// ItemsOwnerID is the owner shared by all items; unset while the order is empty.
func (o *Order) ItemsOwnerID() (uuid.UUID, bool) {
	return o.itemsOwnerID, o.itemsOwnerID != uuid.Nil
}

// Items returns a copy of the order items in insertion order.
func (o *Order) Items() []OrderItem { return slices.Clone(o.items) }

// ItemIDs returns the ids of the order items in insertion order.
func (o *Order) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(o.items))
	for i, it := range o.items {
		ids[i] = it.ItemID
	}
	return ids
}

func (o *Order) PickUpDateTime() (time.Time, bool) {
	if o.pickUpDateTime == nil {
		return time.Time{}, false
	}
	return *o.pickUpDateTime, true
}

func (o *Order) PlannedReturnDate() (time.Time, bool) {
	if o.plannedReturnDate == nil {
		return time.Time{}, false
	}
	return *o.plannedReturnDate, true
}

// AddItem appends an item while the order is still editable. All items must
// share one owner and appear at most once.
func (o *Order) AddItem(item OrderItem) error {
	if item.ItemID == uuid.Nil || item.OwnerID == uuid.Nil {
		return fmt.Errorf("%w: order item needs an item id and an owner", domain.ErrInvalidArgument)
	}
	if !o.editable() {
		return o.transitionError("add item to", domain.ErrInvalidTransition)
	}
	if o.indexOf(item.ItemID) >= 0 {
		return o.transitionError("add item to", domain.ErrDuplicateItem)
	}
	if len(o.items) > 0 && item.OwnerID != o.itemsOwnerID {
		return o.transitionError("add item to", domain.ErrOwnerMismatch)
	}

	o.items = append(o.items, item)
	o.itemsOwnerID = item.OwnerID
	o.Raise(ItemAddedToOrder{OrderID: o.ID(), ItemID: item.ItemID, RenterID: o.renterID})
	return nil
}

// RemoveItem drops an item while the order is still editable.
func (o *Order) RemoveItem(itemID uuid.UUID) error {
	if !o.editable() {
		return o.transitionError("remove item from", domain.ErrInvalidTransition)
	}
	i := o.indexOf(itemID)
	if i < 0 {
		return o.transitionError("remove item from", domain.ErrItemNotInOrder)
	}

	o.items = slices.Delete(o.items, i, i+1)
	if len(o.items) == 0 {
		o.itemsOwnerID = uuid.Nil
	}
	o.Raise(ItemRemovedFromOrder{OrderID: o.ID(), ItemID: itemID})
	return nil
}

// Place fixes the pick up time and hands the order to the owner for
// confirmation. The planned return date, if any, must fall on a later day
// than the pick up.
func (o *Order) Place(now, pickUp time.Time, plannedReturn *time.Time, note string) error {
	if !o.editable() {
		return o.transitionError("place", domain.ErrInvalidTransition)
	}
	if len(o.items) == 0 {
		return o.transitionError("place", domain.ErrEmptyOrder)
	}
	if !pickUp.After(now) {
		return o.transitionError("place", fmt.Errorf("%w: pick up %s", domain.ErrPastDateTime, pickUp.UTC().Format(time.RFC3339)))
	}

	var ret *time.Time
	if plannedReturn != nil {
		d := domain.DateOf(*plannedReturn)
		if !d.After(domain.DateOf(now)) {
			return o.transitionError("place", fmt.Errorf("%w: planned return %s", domain.ErrPastDateTime, d.Format(time.DateOnly)))
		}
		if !d.After(domain.DateOf(pickUp)) {
			return o.transitionError("place", fmt.Errorf("%w: planned return must be later than the pick up date", domain.ErrInvalidTransition))
		}
		ret = &d
	}

	p := pickUp.UTC()
	o.pickUpDateTime = &p
	o.plannedReturnDate = ret
	o.note = strings.TrimSpace(note)
	o.status = OrderStatusPlaced
	o.Raise(o.placedEvent())
	return nil
}

// UpdatePickUpDateTime moves the pick up. A confirmed order goes back to
// placed and has to be confirmed again.
func (o *Order) UpdatePickUpDateTime(now, pickUp time.Time) error {
	if o.status != OrderStatusPlaced && o.status != OrderStatusConfirmed {
		return o.transitionError("update pick up date time of", domain.ErrInvalidTransition)
	}
	if !pickUp.After(now) {
		return o.transitionError("update pick up date time of", fmt.Errorf("%w: pick up %s", domain.ErrPastDateTime, pickUp.UTC().Format(time.RFC3339)))
	}
	if o.plannedReturnDate != nil && !o.plannedReturnDate.After(domain.DateOf(pickUp)) {
		return o.transitionError("update pick up date time of", fmt.Errorf("%w: pick up must be before the planned return date", domain.ErrInvalidTransition))
	}

	p := pickUp.UTC()
	o.pickUpDateTime = &p
	o.Raise(OrderPickUpDateTimeUpdated{OrderID: o.ID(), PickUpDateTime: p})
	if o.status == OrderStatusConfirmed {
		o.status = OrderStatusPlaced
		o.Raise(o.placedEvent())
	}
	return nil
}

// Confirm records the owner's agreement to the placed order.
func (o *Order) Confirm() error {
	if o.status != OrderStatusPlaced {
		return o.transitionError("confirm", domain.ErrInvalidTransition)
	}
	if o.pickUpDateTime == nil {
		return o.transitionError("confirm", fmt.Errorf("%w: pick up date time is not set", domain.ErrInvalidTransition))
	}

	o.status = OrderStatusConfirmed
	o.Raise(OrderConfirmed{
		OrderID:           o.ID(),
		ItemIDs:           o.ItemIDs(),
		RenterID:          o.renterID,
		PlannedReturnDate: o.plannedReturnDate,
	})
	return nil
}

func (o *Order) AwaitPickup() error {
	if o.status != OrderStatusConfirmed {
		return o.transitionError("await pickup of", domain.ErrInvalidTransition)
	}
	if o.pickUpDateTime == nil {
		return o.transitionError("await pickup of", fmt.Errorf("%w: pick up date time is not set", domain.ErrInvalidTransition))
	}

	o.status = OrderStatusAwaitingPickup
	o.Raise(OrderAwaitingPickup{OrderID: o.ID(), PickUpDateTime: *o.pickUpDateTime})
	return nil
}

func (o *Order) PickUp() error {
	if o.status != OrderStatusAwaitingPickup {
		return o.transitionError("pick up", domain.ErrInvalidTransition)
	}

	o.status = OrderStatusPickedUp
	o.Raise(OrderPickedUp{OrderID: o.ID(), ItemIDs: o.ItemIDs(), RenterID: o.renterID})
	return nil
}

func (o *Order) Complete() error {
	if o.status != OrderStatusPickedUp {
		return o.transitionError("complete", domain.ErrInvalidTransition)
	}

	o.status = OrderStatusCompleted
	o.Raise(OrderCompleted{OrderID: o.ID(), ItemIDs: o.ItemIDs()})
	return nil
}

// Cancel ends any order that is not completed. The items stay on the order so
// it can be re-created later.
func (o *Order) Cancel() error {
	if o.status == OrderStatusCompleted {
		return o.transitionError("cancel", domain.ErrInvalidTransition)
	}

	o.status = OrderStatusCanceled
	o.Raise(OrderCanceled{OrderID: o.ID(), ItemIDs: o.ItemIDs(), RenterID: o.renterID})
	return nil
}

// ReCreate reopens a canceled order with its retained items, which have to be
// reserved again.
func (o *Order) ReCreate() error {
	if o.status != OrderStatusCanceled {
		return o.transitionError("re-create", domain.ErrInvalidTransition)
	}

	o.status = OrderStatusCreated
	o.Raise(OrderCreated{OrderID: o.ID(), RenterID: o.renterID})
	for _, it := range o.items {
		o.Raise(ItemAddedToOrder{OrderID: o.ID(), ItemID: it.ItemID, RenterID: o.renterID})
	}
	return nil
}

func (o *Order) editable() bool {
	return o.status == OrderStatusCreated || o.status == OrderStatusPending
}

func (o *Order) indexOf(itemID uuid.UUID) int {
	return slices.IndexFunc(o.items, func(it OrderItem) bool { return it.ItemID == itemID })
}

func (o *Order) placedEvent() OrderPlaced {
	return OrderPlaced{
		OrderID:           o.ID(),
		PickUpDateTime:    *o.pickUpDateTime,
		PlannedReturnDate: o.plannedReturnDate,
		Note:              o.note,
	}
}

func (o *Order) transitionError(op string, err error) error {
	return &domain.TransitionError{
		Aggregate: AggregateType,
		ID:        o.ID(),
		Op:        op,
		Status:    o.status.String(),
		Err:       err,
	}
}
