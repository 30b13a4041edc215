package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventhub/models"
)

var (
	ErrEventNotFound         = fmt.Errorf("event %w", models.ErrNotFound)
	ErrReservationNotFound   = fmt.Errorf("reservation %w", models.ErrNotFound)
	ErrTierNotFound          = errors.New("ticket tier not found")
	ErrInsufficientInventory = errors.New("not enough tickets available")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrReservationClosed     = errors.New("reservation is no longer held")
	ErrBelowAllocated        = errors.New("tier quantity is below sold and held units")
	ErrConcurrentUpdate      = errors.New("tier changed concurrently, retry")
)

// Delta is a change to a tier's counters. Every delta the ledger applies
// sums to zero, so sold + held + available stays equal to quantity.
type Delta struct {
	Available int
	Held      int
	Sold      int
}

// Store persists tiers and the holds against them. Implementations must
// apply each method as one atomic step per event.
type Store interface {
	// Hold takes res.Quantity units of res.Tier from available into held and
	// records res, or fails with ErrInsufficientInventory leaving nothing
	// changed.
	Hold(ctx context.Context, res models.Reservation) error

	// Settle moves res from status from to status to and applies delta to
	// its tier in the same write. It reports false if res was not in from.
	Settle(ctx context.Context, res models.Reservation, from, to models.ReservationStatus, delta Delta, at time.Time) (bool, error)

	Reservation(ctx context.Context, id string) (models.Reservation, error)

	// Expired lists held reservations whose expiry is at or before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)

	Tiers(ctx context.Context, eventID string) ([]models.Tier, error)

	// Resize sets a tier's quantity, keeping sold and held as they are.
	Resize(ctx context.Context, eventID, tier string, quantity int) error

	// Prune drops settled holds last touched before the cutoff. An empty
	// eventID prunes across all events.
	Prune(ctx context.Context, eventID string, statuses []models.ReservationStatus, before time.Time) (int64, error)
}
