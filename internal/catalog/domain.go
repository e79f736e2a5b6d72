// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/domain"
)

// AggregateType identifies items in storage and in the event journal.
const AggregateType = "item"

// ItemStatus is the availability of an item.
type ItemStatus string

const (
	ItemStatusAvailable    ItemStatus = "AVAILABLE"
	ItemStatusReserved     ItemStatus = "RESERVED"
	ItemStatusNotAvailable ItemStatus = "NOT_AVAILABLE"

	// ItemStatusRented is the same state as ItemStatusNotAvailable.
	ItemStatusRented = ItemStatusNotAvailable
)

func (s ItemStatus) String() string { return string(s) }

// BookDetails are the extra attributes of an item that is a book.
type BookDetails struct {
	Author string `json:"author"`
	Year   int    `json:"year"`
	ISBN   string `json:"isbn,omitempty"`
}

// Item represents a book or other library item that an owner lends out.
// The renter is set only while the item is reserved or rented.
type Item struct {
	domain.Entity

	name              string
	description       string
	ownerID           uuid.UUID
	renterID          uuid.UUID
	plannedReturnDate *time.Time
	status            ItemStatus
	book              *BookDetails
}

// NewItem creates an available item and raises ItemCreated.
func NewItem(now time.Time, name, description string, ownerID uuid.UUID) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", domain.ErrInvalidArgument)
	}
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: item owner is required", domain.ErrInvalidArgument)
	}

	item := &Item{
		Entity:      domain.NewEntity(now),
		name:        name,
		description: strings.TrimSpace(description),
		ownerID:     ownerID,
		status:      ItemStatusAvailable,
	}
	item.Raise(ItemCreated{ItemID: item.ID(), Name: item.name, OwnerID: ownerID})
	return item, nil
}

// NewBook creates an available item carrying book details.
func NewBook(now time.Time, name, description string, ownerID uuid.UUID, details BookDetails) (*Item, error) {
	if strings.TrimSpace(details.Author) == "" {
		return nil, fmt.Errorf("%w: book author is required", domain.ErrInvalidArgument)
	}
	if details.Year <= 0 || details.Year > now.Year()+1 {
		return nil, fmt.Errorf("%w: book year %d is out of range", domain.ErrInvalidArgument, details.Year)
	}

	item, err := NewItem(now, name, description, ownerID)
	if err != nil {
		return nil, err
	}
	details.Author = strings.TrimSpace(details.Author)
	details.ISBN = strings.TrimSpace(details.ISBN)
	item.book = &details
	return item, nil
}

func (i *Item) AggregateType() string { return AggregateType }
func (i *Item) Name() string          { return i.name }
func (i *Item) Description() string   { return i.description }
func (i *Item) OwnerID() uuid.UUID    { return i.ownerID }
func (i *Item) Status() ItemStatus    { return i.status }

// RenterID returns the renter holding the reservation or rental.
func (i *Item) RenterID() (uuid.UUID, bool) {
	return i.renterID, i.renterID != uuid.Nil
}

// PlannedReturnDate is set while the item is rented with a planned return.
func (i *Item) PlannedReturnDate() (time.Time, bool) {
	if i.plannedReturnDate == nil {
		return time.Time{}, false
	}
	return *i.plannedReturnDate, true
}

// Book returns the book details, if the item is a book.
func (i *Item) Book() (BookDetails, bool) {
	if i.book == nil {
		return BookDetails{}, false
	}
	return *i.book, true
}

// Reserve holds an available item for a renter.
func (i *Item) Reserve(renterID uuid.UUID) error {
	if renterID == uuid.Nil {
		return fmt.Errorf("%w: renter is required", domain.ErrInvalidArgument)
	}
	if i.status != ItemStatusAvailable {
		return i.transitionError("reserve", domain.ErrInvalidTransition)
	}

	i.status = ItemStatusReserved
	i.renterID = renterID
	i.Raise(ItemReserved{ItemID: i.ID(), Name: i.name, RenterID: renterID})
	return nil
}

// CancelReservation releases a reserved item.
func (i *Item) CancelReservation() error {
	if i.status != ItemStatusReserved {
		return i.transitionError("cancel reservation of", domain.ErrInvalidTransition)
	}

	i.status = ItemStatusAvailable
	i.renterID = uuid.Nil
	i.Raise(ItemReservationCanceled{ItemID: i.ID(), Name: i.name})
	return nil
}

// Rent hands the item over to a renter. Whether a prior reservation is
// required is decided by the policy.
func (i *Item) Rent(renterID uuid.UUID, plannedReturnDate *time.Time, policy RentPolicy) error {
	if renterID == uuid.Nil {
		return fmt.Errorf("%w: renter is required", domain.ErrInvalidArgument)
	}
	switch i.status {
	case ItemStatusNotAvailable:
		return i.transitionError("rent", domain.ErrInvalidTransition)
	case ItemStatusReserved:
		if i.renterID != renterID {
			return i.transitionError("rent", domain.ErrConflictingReservation)
		}
	case ItemStatusAvailable:
		if policy == RentPolicyReservationRequired {
			return i.transitionError("rent", fmt.Errorf("%w: item must be reserved first", domain.ErrInvalidTransition))
		}
	}

	i.status = ItemStatusNotAvailable
	i.renterID = renterID
	i.plannedReturnDate = nil
	if plannedReturnDate != nil {
		d := domain.DateOf(*plannedReturnDate)
		i.plannedReturnDate = &d
	}
	i.Raise(ItemRented{ItemID: i.ID(), Name: i.name, RenterID: renterID, PlannedReturnDate: i.plannedReturnDate})
	return nil
}

// Return makes a rented item available again.
func (i *Item) Return() error {
	if i.status != ItemStatusNotAvailable {
		return i.transitionError("return", domain.ErrInvalidTransition)
	}

	i.status = ItemStatusAvailable
	i.renterID = uuid.Nil
	i.plannedReturnDate = nil
	i.Raise(ItemReturned{ItemID: i.ID(), Name: i.name})
	return nil
}

func (i *Item) transitionError(op string, err error) error {
	return &domain.TransitionError{
		Aggregate: AggregateType,
		ID:        i.ID(),
		Op:        op,
		Status:    i.status.String(),
		Err:       err,
	}
}
