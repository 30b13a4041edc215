package booking

import (
	"context"
	"slices"
	"time"

	"eventhub/models"
	"eventhub/payments"
)

type EventReader interface {
	Event(ctx context.Context, id string) (models.Event, error)
}

type UserDirectory interface {
	ByEmail(ctx context.Context, email string) (models.User, error)
}

// Notifier must not block the caller.
type Notifier interface {
	Dispatch(userID, kind string, payload map[string]any)
}

// Waitlist hears about seats that went back on sale. It must not block
// on delivery.
type Waitlist interface {
	SeatsFreed(ctx context.Context, eventID, tier string, qty int)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type PaymentStore interface {
	Insert(ctx context.Context, p *models.Payment) error
	Get(ctx context.Context, id string) (models.Payment, error)
	Update(ctx context.Context, id string, from []models.PaymentStatus, upd payments.Update) (bool, error)
}

// TicketCond restricts a ticket update to tickets currently matching it.
// Empty fields match anything.
type TicketCond struct {
	States          []models.BookingState
	Statuses        []models.TicketStatus
	PaymentStatuses []models.PaymentStatus
	UserID          string
}

func (c TicketCond) Matches(t models.Ticket) bool {
	if len(c.States) > 0 && !slices.Contains(c.States, t.BookingState) {
		return false
	}
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, t.Status) {
		return false
	}
	if len(c.PaymentStatuses) > 0 && !slices.Contains(c.PaymentStatuses, t.PaymentStatus) {
		return false
	}
	return c.UserID == "" || c.UserID == t.UserID
}

// TicketUpdate lists the fields to change; nil fields are left alone and
// Transfer is appended to the history.
type TicketUpdate struct {
	State         *models.BookingState
	PaymentStatus *models.PaymentStatus
	Status        *models.TicketStatus
	ReservationID *string
	UserID        *string
	SeatsReleased *bool
	CheckIn       *models.CheckIn
	Cancellation  *models.Cancellation
	Transfer      *models.Transfer
}

// Apply mirrors a successful store update onto an in-memory ticket.
func (u TicketUpdate) Apply(t *models.Ticket, at time.Time) {
	if u.State != nil {
		t.BookingState = *u.State
	}
	if u.PaymentStatus != nil {
		t.PaymentStatus = *u.PaymentStatus
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ReservationID != nil {
		t.ReservationID = *u.ReservationID
	}
	if u.UserID != nil {
		t.UserID = *u.UserID
	}
	if u.SeatsReleased != nil {
		t.SeatsReleased = *u.SeatsReleased
	}
	if u.CheckIn != nil {
		ci := *u.CheckIn
		t.CheckIn = &ci
	}
	if u.Cancellation != nil {
		c := *u.Cancellation
		t.Cancellation = &c
	}
	if u.Transfer != nil {
		t.TransferHistory = append(t.TransferHistory, *u.Transfer)
	}
	t.UpdatedAt = at
}

type TicketStore interface {
	// Insert fails with models.ErrDuplicate when the user already has a
	// ticket with the same idempotency key.
	Insert(ctx context.Context, t *models.Ticket) error
	Get(ctx context.Context, id string) (models.Ticket, error)
	ByIdempotencyKey(ctx context.Context, userID, key string) (models.Ticket, error)
	ByCode(ctx context.Context, code string) (models.Ticket, error)
	ByReservation(ctx context.Context, reservationID string) (models.Ticket, error)
	// Update applies upd only if the ticket matches cond, and reports
	// whether it did.
	Update(ctx context.Context, id string, cond TicketCond, upd TicketUpdate) (bool, error)
	// Stuck lists tickets in one of states not touched since before.
	Stuck(ctx context.Context, states []models.BookingState, before time.Time, limit int) ([]models.Ticket, error)
	// Unsettled lists cancelled tickets, not touched since before, that
	// still owe a refund or have seats to give back.
	Unsettled(ctx context.Context, before time.Time, limit int) ([]models.Ticket, error)
}

func ptr[T any](v T) *T {
	return &v
}
