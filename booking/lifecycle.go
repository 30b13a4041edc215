package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eventhub/models"
	"eventhub/payments"

	log "github.com/sirupsen/logrus"
)

// Ticket returns a ticket visible to p: its holder, the event organizer or
// an admin.
func (m *Manager) Ticket(ctx context.Context, p models.Principal, id string) (models.Ticket, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return t, err
	}
	if t.UserID == p.ID || p.IsAdmin() {
		return t, nil
	}
	ev, err := m.events.Event(ctx, t.EventID)
	if err == nil && ev.OrganizerID == p.ID {
		return t, nil
	}
	return models.Ticket{}, ErrNotAuthorized
}

// Cancel cancels a committed ticket, gives its seats back and refunds the
// payment. Only the holder or an admin may cancel, and only before the
// event starts unless the caller is an admin.
func (m *Manager) Cancel(ctx context.Context, p models.Principal, id, reason string) (models.Ticket, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return t, err
	}
	if t.UserID != p.ID && !p.IsAdmin() {
		return models.Ticket{}, ErrNotAuthorized
	}
	switch {
	case t.Status == models.TicketCancelled:
		return t, invalid("status", "ticket is already cancelled")
	case t.Status == models.TicketUsed:
		return t, invalid("status", "ticket has already been used")
	case t.BookingState != models.StateCommitted:
		return t, invalid("status", "only confirmed bookings can be cancelled")
	}
	if !p.IsAdmin() {
		ev, err := m.events.Event(ctx, t.EventID)
		if err != nil {
			return t, &PersistenceError{Op: "load event", Err: err}
		}
		if ev.Started(m.now()) {
			return t, invalid("eventId", "event has already started")
		}
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled by user"
	}

	ok, err := m.advance(ctx, &t, models.StateCancelled, TicketCond{
		States:   []models.BookingState{models.StateCommitted},
		Statuses: []models.TicketStatus{models.TicketActive, models.TicketTransferred},
	}, TicketUpdate{
		Status:       ptr(models.TicketCancelled),
		Cancellation: &models.Cancellation{At: m.now(), By: p.ID, Reason: reason},
	})
	if err != nil {
		return t, &PersistenceError{Op: "cancel ticket", Err: err}
	}
	if !ok {
		return m.reload(ctx, t), ErrConflict
	}
	logger := log.WithFields(log.Fields{"ticket": t.ID, "by": p.ID})
	logger.Info("ticket cancelled")

	// both steps below are idempotent and retried by the reconciler
	t = m.recycle(ctx, t)
	if t, err = m.refund(ctx, t, reason); err != nil {
		logger.WithError(err).Warn("refund deferred to reconciler")
	}
	m.notify(t.UserID, "booking_cancelled", map[string]any{
		"ticketId": t.ID, "eventId": t.EventID, "reason": reason, "refunded": t.PaymentStatus == models.PaymentRefunded,
		"amount": t.TotalAmount.StringFixed(2), "currency": t.Currency,
	})
	return t, nil
}

// Transfer hands a committed ticket to another registered user.
func (m *Manager) Transfer(ctx context.Context, p models.Principal, id, toEmail, reason string) (models.Ticket, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return t, err
	}
	if t.UserID != p.ID {
		return models.Ticket{}, ErrNotAuthorized
	}
	if t.BookingState != models.StateCommitted || (t.Status != models.TicketActive && t.Status != models.TicketTransferred) {
		return t, invalid("status", "ticket cannot be transferred")
	}
	toEmail = strings.ToLower(strings.TrimSpace(toEmail))
	if toEmail == "" {
		return t, invalid("toUserEmail", "is required")
	}
	to, err := m.users.ByEmail(ctx, toEmail)
	if errors.Is(err, models.ErrNotFound) {
		return t, invalid("toUserEmail", "no user with that email")
	}
	if err != nil {
		return t, &PersistenceError{Op: "find recipient", Err: err}
	}
	if to.ID == p.ID {
		return t, invalid("toUserEmail", "cannot transfer a ticket to yourself")
	}

	upd := TicketUpdate{
		UserID:   &to.ID,
		Status:   ptr(models.TicketTransferred),
		Transfer: &models.Transfer{From: p.ID, To: to.ID, Reason: reason, At: m.now()},
	}
	ok, err := m.tickets.Update(ctx, t.ID, TicketCond{
		States:   []models.BookingState{models.StateCommitted},
		Statuses: []models.TicketStatus{models.TicketActive, models.TicketTransferred},
		UserID:   p.ID,
	}, upd)
	if err != nil {
		return t, &PersistenceError{Op: "transfer ticket", Err: err}
	}
	if !ok {
		return m.reload(ctx, t), ErrConflict
	}
	upd.Apply(&t, m.now())
	log.WithFields(log.Fields{"ticket": t.ID, "from": p.ID, "to": to.ID}).Info("ticket transferred")
	m.notify(p.ID, "ticket_transferred", map[string]any{"ticketId": t.ID, "eventId": t.EventID, "to": to.Email})
	m.notify(to.ID, "ticket_received", map[string]any{"ticketId": t.ID, "eventId": t.EventID, "from": p.ID})
	return t, nil
}

// CheckIn admits a ticket at the door. Only the event organizer or an
// admin may check tickets in and a ticket is admitted at most once.
func (m *Manager) CheckIn(ctx context.Context, p models.Principal, id, location string) (models.Ticket, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return t, err
	}
	return m.checkIn(ctx, p, t, location)
}

// CheckInByCode is CheckIn for a ticket identified by its printed code.
func (m *Manager) CheckInByCode(ctx context.Context, p models.Principal, code, location string) (models.Ticket, error) {
	t, err := m.tickets.ByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, models.ErrNotFound) {
		return t, fmt.Errorf("ticket %w", ErrNotFound)
	}
	if err != nil {
		return t, &PersistenceError{Op: "find ticket", Err: err}
	}
	return m.checkIn(ctx, p, t, location)
}

func (m *Manager) checkIn(ctx context.Context, p models.Principal, t models.Ticket, location string) (models.Ticket, error) {
	if !p.IsAdmin() {
		ev, err := m.events.Event(ctx, t.EventID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.Ticket{}, fmt.Errorf("event %w", ErrNotFound)
			}
			return models.Ticket{}, &PersistenceError{Op: "load event", Err: err}
		}
		if ev.OrganizerID != p.ID {
			return models.Ticket{}, ErrNotAuthorized
		}
	}
	if t.Status == models.TicketUsed {
		return t, ErrAlreadyCheckedIn
	}
	if t.BookingState != models.StateCommitted || t.PaymentStatus != models.PaymentCompleted ||
		(t.Status != models.TicketActive && t.Status != models.TicketTransferred) {
		return t, invalid("status", "ticket is not valid for entry")
	}

	upd := TicketUpdate{
		Status:  ptr(models.TicketUsed),
		CheckIn: &models.CheckIn{At: m.now(), By: p.ID, Location: location},
	}
	ok, err := m.tickets.Update(ctx, t.ID, TicketCond{
		States:          []models.BookingState{models.StateCommitted},
		Statuses:        []models.TicketStatus{models.TicketActive, models.TicketTransferred},
		PaymentStatuses: []models.PaymentStatus{models.PaymentCompleted},
	}, upd)
	if err != nil {
		return t, &PersistenceError{Op: "check in", Err: err}
	}
	if !ok {
		fresh := m.reload(ctx, t)
		if fresh.Status == models.TicketUsed {
			return fresh, ErrAlreadyCheckedIn
		}
		return fresh, ErrConflict
	}
	upd.Apply(&t, m.now())
	log.WithFields(log.Fields{"ticket": t.ID, "by": p.ID, "location": location}).Info("ticket checked in")
	return t, nil
}

// recycle returns a cancelled ticket's seats to the tier.
func (m *Manager) recycle(ctx context.Context, t models.Ticket) models.Ticket {
	if t.SeatsReleased {
		return t
	}
	err := m.retry(ctx, func(ctx context.Context) error {
		return m.ledger.Recycle(ctx, t.ReservationID)
	})
	if err != nil {
		log.WithFields(log.Fields{"ticket": t.ID, "reservation": t.ReservationID}).WithError(err).Warn("seats not recycled yet")
		return t
	}
	upd := TicketUpdate{SeatsReleased: ptr(true)}
	if ok, err := m.tickets.Update(ctx, t.ID, TicketCond{}, upd); err == nil && ok {
		upd.Apply(&t, m.now())
	}
	if m.waitlist != nil {
		m.waitlist.SeatsFreed(ctx, t.EventID, t.Tier, t.Quantity)
	}
	return t
}

// refund returns the payment of a cancelled ticket. The gateway call
// carries a key derived from the payment, so repeating it never refunds
// twice.
func (m *Manager) refund(ctx context.Context, t models.Ticket, reason string) (models.Ticket, error) {
	pay, err := m.payments.Get(ctx, t.PaymentID)
	if err != nil {
		return t, err
	}
	switch pay.Status {
	case models.PaymentRefunded:
		return m.markRefunded(ctx, t), nil
	case models.PaymentCompleted:
	default:
		return t, nil
	}

	rctx, cancel := context.WithTimeout(ctx, m.cfg.PaymentTimeout)
	defer cancel()
	rr, err := m.gateway.Refund(rctx, payments.RefundRequest{
		TxnID:          pay.GatewayTxnID,
		Amount:         pay.Amount.Decimal,
		Reason:         reason,
		IdempotencyKey: "refund:" + pay.ID,
	})
	if err != nil {
		return t, err
	}
	refund := &models.Refund{Amount: pay.Amount, At: m.now(), Reason: reason, GatewayRefundID: rr.ID}
	err = m.retry(ctx, func(ctx context.Context) error {
		_, err := m.payments.Update(ctx, pay.ID, []models.PaymentStatus{models.PaymentCompleted},
			payments.Update{Status: ptr(models.PaymentRefunded), Refund: refund})
		return err
	})
	if err != nil {
		return t, err
	}
	log.WithFields(log.Fields{"ticket": t.ID, "payment": pay.ID, "refund": rr.ID}).Info("payment refunded")
	return m.markRefunded(ctx, t), nil
}

func (m *Manager) markRefunded(ctx context.Context, t models.Ticket) models.Ticket {
	upd := TicketUpdate{PaymentStatus: ptr(models.PaymentRefunded)}
	if ok, err := m.tickets.Update(ctx, t.ID, TicketCond{}, upd); err == nil && ok {
		upd.Apply(&t, m.now())
	}
	return t
}

func (m *Manager) load(ctx context.Context, id string) (models.Ticket, error) {
	t, err := m.tickets.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return t, fmt.Errorf("ticket %w", ErrNotFound)
	}
	if err != nil {
		return t, &PersistenceError{Op: "load ticket", Err: err}
	}
	return t, nil
}
