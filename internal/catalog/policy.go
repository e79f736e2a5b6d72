package catalog

import (
	"fmt"

	"libranexus/internal/domain"
)

// RentPolicy decides whether an item can be rented without a prior reservation.
type RentPolicy int

const (
	// RentPolicyDirect allows renting an available item directly.
	RentPolicyDirect RentPolicy = iota
	// RentPolicyReservationRequired only allows renting an item reserved by the same renter.
	RentPolicyReservationRequired
)

func (p RentPolicy) String() string {
	switch p {
	case RentPolicyDirect:
		return "direct"
	case RentPolicyReservationRequired:
		return "reservation-required"
	default:
		return "unknown"
	}
}

// ParseRentPolicy accepts the names returned by String.
func ParseRentPolicy(s string) (RentPolicy, error) {
	switch s {
	case "", "direct":
		return RentPolicyDirect, nil
	case "reservation-required":
		return RentPolicyReservationRequired, nil
	default:
		return 0, fmt.Errorf("%w: unknown rent policy %q", domain.ErrInvalidArgument, s)
	}
}
