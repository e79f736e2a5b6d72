package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Event type names as written to the journal.
const (
	EventOrderCreated               = "OrderCreated"
	EventItemAddedToOrder           = "ItemAddedToOrder"
	EventItemRemovedFromOrder       = "ItemRemovedFromOrder"
	EventOrderPlaced                = "OrderPlaced"
	EventOrderPickUpDateTimeUpdated = "OrderPickUpDateTimeUpdated"
	EventOrderConfirmed             = "OrderConfirmed"
	EventOrderAwaitingPickup        = "OrderAwaitingPickup"
	EventOrderPickedUp              = "OrderPickedUp"
	EventOrderCompleted             = "OrderCompleted"
	EventOrderCanceled              = "OrderCanceled"
)

type OrderCreated struct {
	OrderID  uuid.UUID `json:"order_id"`
	RenterID uuid.UUID `json:"renter_id"`
}

func (e OrderCreated) EventType() string      { return EventOrderCreated }
func (e OrderCreated) AggregateID() uuid.UUID { return e.OrderID }

// ItemAddedToOrder asks for the item to be reserved for the renter.
type ItemAddedToOrder struct {
	OrderID  uuid.UUID `json:"order_id"`
	ItemID   uuid.UUID `json:"item_id"`
	RenterID uuid.UUID `json:"renter_id"`
}

func (e ItemAddedToOrder) EventType() string      { return EventItemAddedToOrder }
func (e ItemAddedToOrder) AggregateID() uuid.UUID { return e.OrderID }

// ItemRemovedFromOrder asks for the item's reservation to be released.
type ItemRemovedFromOrder struct {
	OrderID uuid.UUID `json:"order_id"`
	ItemID  uuid.UUID `json:"item_id"`
}

func (e ItemRemovedFromOrder) EventType() string      { return EventItemRemovedFromOrder }
func (e ItemRemovedFromOrder) AggregateID() uuid.UUID { return e.OrderID }

type OrderPlaced struct {
	OrderID           uuid.UUID  `json:"order_id"`
	PickUpDateTime    time.Time  `json:"pick_up_date_time"`
	PlannedReturnDate *time.Time `json:"planned_return_date,omitempty"`
	Note              string     `json:"note,omitempty"`
}

func (e OrderPlaced) EventType() string      { return EventOrderPlaced }
func (e OrderPlaced) AggregateID() uuid.UUID { return e.OrderID }

type OrderPickUpDateTimeUpdated struct {
	OrderID        uuid.UUID `json:"order_id"`
	PickUpDateTime time.Time `json:"pick_up_date_time"`
}

func (e OrderPickUpDateTimeUpdated) EventType() string      { return EventOrderPickUpDateTimeUpdated }
func (e OrderPickUpDateTimeUpdated) AggregateID() uuid.UUID { return e.OrderID }

// OrderConfirmed hands the items over to the renter.
type OrderConfirmed struct {
	OrderID           uuid.UUID   `json:"order_id"`
	ItemIDs           []uuid.UUID `json:"item_ids"`
	RenterID          uuid.UUID   `json:"renter_id"`
	PlannedReturnDate *time.Time  `json:"planned_return_date,omitempty"`
}

func (e OrderConfirmed) EventType() string      { return EventOrderConfirmed }
func (e OrderConfirmed) AggregateID() uuid.UUID { return e.OrderID }

type OrderAwaitingPickup struct {
	OrderID        uuid.UUID `json:"order_id"`
	PickUpDateTime time.Time `json:"pick_up_date_time"`
}

func (e OrderAwaitingPickup) EventType() string      { return EventOrderAwaitingPickup }
func (e OrderAwaitingPickup) AggregateID() uuid.UUID { return e.OrderID }

type OrderPickedUp struct {
	OrderID  uuid.UUID   `json:"order_id"`
	ItemIDs  []uuid.UUID `json:"item_ids"`
	RenterID uuid.UUID   `json:"renter_id"`
}

func (e OrderPickedUp) EventType() string      { return EventOrderPickedUp }
func (e OrderPickedUp) AggregateID() uuid.UUID { return e.OrderID }

// OrderCompleted asks for the items to be returned.
type OrderCompleted struct {
	OrderID uuid.UUID   `json:"order_id"`
	ItemIDs []uuid.UUID `json:"item_ids"`
}

func (e OrderCompleted) EventType() string      { return EventOrderCompleted }
func (e OrderCompleted) AggregateID() uuid.UUID { return e.OrderID }

// OrderCanceled asks for reservations held by the order to be released.
type OrderCanceled struct {
	OrderID  uuid.UUID   `json:"order_id"`
	ItemIDs  []uuid.UUID `json:"item_ids"`
	RenterID uuid.UUID   `json:"renter_id"`
}

func (e OrderCanceled) EventType() string      { return EventOrderCanceled }
func (e OrderCanceled) AggregateID() uuid.UUID { return e.OrderID }
