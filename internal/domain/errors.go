// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("aggregate not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrConflictingReservation = errors.New("item is reserved by a different renter")
	ErrConcurrencyConflict    = errors.New("concurrency conflict: version mismatch")
)

// More specific guard failures. All of them match ErrInvalidTransition.
var (
	ErrEmptyOrder     = fmt.Errorf("%w: order has no items", ErrInvalidTransition)
	ErrPastDateTime   = fmt.Errorf("%w: date must be in the future", ErrInvalidTransition)
	ErrOwnerMismatch  = fmt.Errorf("%w: all items must have the same owner", ErrInvalidTransition)
	ErrDuplicateItem  = fmt.Errorf("%w: item is already in the order", ErrInvalidTransition)
	ErrItemNotInOrder = fmt.Errorf("%w: item is not in the order", ErrInvalidTransition)
)

// TransitionError describes a rejected state transition.
type TransitionError struct {
	Aggregate string
	ID        fmt.Stringer
	Op        string
	Status    string
	Err       error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("can not %s %s %s in status %s: %v", e.Op, e.Aggregate, e.ID, e.Status, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// NotFoundError names the aggregate that could not be loaded.
type NotFoundError struct {
	Aggregate string
	ID        fmt.Stringer
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Aggregate, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
