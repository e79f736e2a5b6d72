package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Event type names as written to the journal.
const (
	EventItemCreated             = "ItemCreated"
	EventItemReserved            = "ItemReserved"
	EventItemReservationCanceled = "ItemReservationCanceled"
	EventItemRented              = "ItemRented"
	EventItemReturned            = "ItemReturned"
)

// ItemCreated is raised when an item enters the catalog.
type ItemCreated struct {
	ItemID  uuid.UUID `json:"item_id"`
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"owner_id"`
}

func (e ItemCreated) EventType() string      { return EventItemCreated }
func (e ItemCreated) AggregateID() uuid.UUID { return e.ItemID }

// ItemReserved is raised when an item is held for a renter.
type ItemReserved struct {
	ItemID   uuid.UUID `json:"item_id"`
	Name     string    `json:"name"`
	RenterID uuid.UUID `json:"renter_id"`
}

func (e ItemReserved) EventType() string      { return EventItemReserved }
func (e ItemReserved) AggregateID() uuid.UUID { return e.ItemID }

// ItemReservationCanceled is raised when a reservation is released.
type ItemReservationCanceled struct {
	ItemID uuid.UUID `json:"item_id"`
	Name   string    `json:"name"`
}

func (e ItemReservationCanceled) EventType() string      { return EventItemReservationCanceled }
func (e ItemReservationCanceled) AggregateID() uuid.UUID { return e.ItemID }

// ItemRented is raised when an item is handed over to a renter.
type ItemRented struct {
	ItemID            uuid.UUID  `json:"item_id"`
	Name              string     `json:"name"`
	RenterID          uuid.UUID  `json:"renter_id"`
	PlannedReturnDate *time.Time `json:"planned_return_date,omitempty"`
}

func (e ItemRented) EventType() string      { return EventItemRented }
func (e ItemRented) AggregateID() uuid.UUID { return e.ItemID }

// ItemReturned is raised when a rented item comes back.
type ItemReturned struct {
	ItemID uuid.UUID `json:"item_id"`
	Name   string    `json:"name"`
}

func (e ItemReturned) EventType() string      { return EventItemReturned }
func (e ItemReturned) AggregateID() uuid.UUID { return e.ItemID }
