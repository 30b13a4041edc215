// Package bookingtest holds in-memory stores for exercising the booking
// manager without Mongo or Redis.
package bookingtest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"eventhub/booking"
	"eventhub/models"
	"eventhub/payments"
	"eventhub/utils"
)

type Tickets struct {
	mu   sync.Mutex
	byID map[string]models.Ticket
	now  func() time.Time

	// FailUpdate, when set, is consulted before every Update; a non-nil
	// return fails the write.
	FailUpdate func(id string, upd booking.TicketUpdate) error
}

func NewTickets(now func() time.Time) *Tickets {
	if now == nil {
		now = time.Now
	}
	return &Tickets{byID: map[string]models.Ticket{}, now: now}
}

func (s *Tickets) Insert(_ context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; ok {
		return models.ErrDuplicate
	}
	if t.IdempotencyKey != "" {
		for _, o := range s.byID {
			if o.UserID == t.UserID && o.IdempotencyKey == t.IdempotencyKey {
				return models.ErrDuplicate
			}
		}
	}
	s.byID[t.ID] = copyTicket(*t)
	return nil
}

func (s *Tickets) Get(_ context.Context, id string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return models.Ticket{}, models.ErrNotFound
	}
	return copyTicket(t), nil
}

func (s *Tickets) find(match func(models.Ticket) bool) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byID {
		if match(t) {
			return copyTicket(t), nil
		}
	}
	return models.Ticket{}, models.ErrNotFound
}

func (s *Tickets) ByIdempotencyKey(_ context.Context, userID, key string) (models.Ticket, error) {
	return s.find(func(t models.Ticket) bool { return t.UserID == userID && t.IdempotencyKey == key })
}

func (s *Tickets) ByCode(_ context.Context, code string) (models.Ticket, error) {
	return s.find(func(t models.Ticket) bool { return t.Code == code })
}

func (s *Tickets) ByReservation(_ context.Context, id string) (models.Ticket, error) {
	return s.find(func(t models.Ticket) bool { return t.ReservationID == id })
}

func (s *Tickets) Update(_ context.Context, id string, cond booking.TicketCond, upd booking.TicketUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		if err := s.FailUpdate(id, upd); err != nil {
			return false, err
		}
	}
	t, ok := s.byID[id]
	if !ok || !cond.Matches(t) {
		return false, nil
	}
	upd.Apply(&t, s.now())
	s.byID[id] = t
	return true, nil
}

func (s *Tickets) list(match func(models.Ticket) bool, limit int) []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.byID {
		if match(t) {
			out = append(out, copyTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Tickets) Stuck(_ context.Context, states []models.BookingState, before time.Time, limit int) ([]models.Ticket, error) {
	return s.list(func(t models.Ticket) bool {
		return slices.Contains(states, t.BookingState) && t.UpdatedAt.Before(before)
	}, limit), nil
}

func (s *Tickets) Unsettled(_ context.Context, before time.Time, limit int) ([]models.Ticket, error) {
	return s.list(func(t models.Ticket) bool {
		return t.BookingState == models.StateCancelled && t.UpdatedAt.Before(before) &&
			(t.PaymentStatus == models.PaymentCompleted || !t.SeatsReleased)
	}, limit), nil
}

var listed = []models.BookingState{models.StatePaymentConfirmed, models.StateCommitted, models.StateCancelled}

func (s *Tickets) ByUser(_ context.Context, userID string, status models.TicketStatus, page utils.Page) ([]models.Ticket, int64, error) {
	all := s.list(func(t models.Ticket) bool {
		return t.UserID == userID && slices.Contains(listed, t.BookingState) && (status == "" || t.Status == status)
	}, 0)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	from := min(int(page.Skip()), len(all))
	to := min(from+page.Limit, len(all))
	return all[from:to], total, nil
}

func (s *Tickets) ByEvent(_ context.Context, eventID string) ([]models.Ticket, error) {
	out := s.list(func(t models.Ticket) bool {
		return t.EventID == eventID && slices.Contains(listed, t.BookingState)
	}, 0)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Tickets) HoldsTicket(_ context.Context, userID, eventID string) (bool, error) {
	held := s.list(func(t models.Ticket) bool {
		return t.UserID == userID && t.EventID == eventID &&
			t.BookingState == models.StateCommitted && t.Status != models.TicketCancelled
	}, 1)
	return len(held) > 0, nil
}

// All returns every ticket, oldest first.
func (s *Tickets) All() []models.Ticket {
	out := s.list(func(models.Ticket) bool { return true }, 0)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyTicket(t models.Ticket) models.Ticket {
	if t.CheckIn != nil {
		ci := *t.CheckIn
		t.CheckIn = &ci
	}
	if t.Cancellation != nil {
		c := *t.Cancellation
		t.Cancellation = &c
	}
	t.TransferHistory = slices.Clone(t.TransferHistory)
	return t
}

type Payments struct {
	mu   sync.Mutex
	byID map[string]models.Payment
}

func NewPayments() *Payments {
	return &Payments{byID: map[string]models.Payment{}}
}

func (s *Payments) Insert(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.byID {
		if o.ID == p.ID || o.TicketID == p.TicketID {
			return models.ErrDuplicate
		}
	}
	s.byID[p.ID] = *p
	return nil
}

func (s *Payments) Get(_ context.Context, id string) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return models.Payment{}, models.ErrNotFound
	}
	return p, nil
}

func (s *Payments) Update(_ context.Context, id string, from []models.PaymentStatus, upd payments.Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || (len(from) > 0 && !slices.Contains(from, p.Status)) {
		return false, nil
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.AuthID != nil {
		p.AuthID = *upd.AuthID
	}
	if upd.TxnID != nil {
		p.GatewayTxnID = *upd.TxnID
	}
	if upd.FailureReason != nil {
		p.FailureReason = *upd.FailureReason
	}
	if upd.Refund != nil {
		r := *upd.Refund
		p.Refund = &r
	}
	s.byID[id] = p
	return true, nil
}

type Users map[string]models.User

func (u Users) ByEmail(_ context.Context, email string) (models.User, error) {
	usr, ok := u[email]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return usr, nil
}

type Sent struct {
	UserID  string
	Kind    string
	Payload map[string]any
}

// Notifier records every dispatch.
type Notifier struct {
	mu   sync.Mutex
	sent []Sent
}

func (n *Notifier) Dispatch(userID, kind string, payload map[string]any) {
	n.mu.Lock()
	n.sent = append(n.sent, Sent{UserID: userID, Kind: kind, Payload: payload})
	n.mu.Unlock()
}

// Kinds lists the notification kinds sent to userID in order.
func (n *Notifier) Kinds(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Kind)
		}
	}
	return out
}

type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *Locker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *Locker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	return nil
}

type Freed struct {
	EventID string
	Tier    string
	Qty     int
}

// Waitlist records the seats handed back to an event.
type Waitlist struct {
	mu    sync.Mutex
	freed []Freed
}

func (w *Waitlist) SeatsFreed(_ context.Context, eventID, tier string, qty int) {
	w.mu.Lock()
	w.freed = append(w.freed, Freed{EventID: eventID, Tier: tier, Qty: qty})
	w.mu.Unlock()
}

func (w *Waitlist) Freed() []Freed {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.freed)
}
