package booking

import (
	"context"
	"errors"
	"time"

	"eventhub/ledger"
	"eventhub/models"
	"eventhub/payments"

	log "github.com/sirupsen/logrus"
)

// Report counts what one reconciler pass did.
type Report struct {
	Expired   int
	Released  int
	Committed int
	Refunded  int
	Recycled  int
	Pruned    int64
}

func (r Report) empty() bool {
	return r == Report{}
}

// Reconciler drives bookings that a request left behind to a terminal
// state: stale holds are expired, confirmed payments are committed or
// refunded and cancelled tickets get their seats and money back.
type Reconciler struct {
	m        *Manager
	interval time.Duration
	batch    int
	pruneAge time.Duration
}

func NewReconciler(m *Manager, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{m: m, interval: interval, batch: 100, pruneAge: 24 * time.Hour}
}

// Run calls Once every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	log.WithField("interval", r.interval).Info("reconciler started")
	for {
		select {
		case <-ctx.Done():
			log.Info("reconciler stopped")
			return
		case <-t.C:
			rep, err := r.Once(ctx)
			if err != nil {
				log.WithError(err).Warn("reconciler pass incomplete")
			}
			if !rep.empty() {
				log.WithFields(log.Fields{
					"expired": rep.Expired, "released": rep.Released, "committed": rep.Committed,
					"refunded": rep.Refunded, "recycled": rep.Recycled, "pruned": rep.Pruned,
				}).Info("reconciler pass")
			}
		}
	}
}

// Once runs a single pass. Errors from one step do not stop the others.
func (r *Reconciler) Once(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	m := r.m
	now := m.now()

	expired, err := m.ledger.ExpireStale(ctx, r.batch)
	errs = append(errs, err)
	rep.Expired = len(expired)
	for _, res := range expired {
		t, err := m.tickets.ByReservation(ctx, res.ID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.abandon(ctx, t, &rep)
	}

	// tickets whose flow died before the sweeper could see a held reservation
	early, err := m.tickets.Stuck(ctx, []models.BookingState{models.StateReserved, models.StateAuthorizing, models.StatePaymentFailed},
		now.Add(-m.ledger.HoldTTL()-r.interval), r.batch)
	errs = append(errs, err)
	for _, t := range early {
		res, err := m.ledger.Reservation(ctx, t.ReservationID)
		if err == nil && res.Status == models.ReservationHeld && res.ExpiresAt.After(now) {
			continue
		}
		r.abandon(ctx, t, &rep)
	}

	confirmed, err := m.tickets.Stuck(ctx, []models.BookingState{models.StatePaymentConfirmed}, now.Add(-r.interval), r.batch)
	errs = append(errs, err)
	for _, t := range confirmed {
		t, err := m.finalize(ctx, t)
		if err == nil && t.BookingState == models.StateCommitted {
			rep.Committed++
		}
		if t.BookingState == models.StateCancelled {
			rep.Refunded++
		}
	}

	unsettled, err := m.tickets.Unsettled(ctx, now.Add(-r.interval), r.batch)
	errs = append(errs, err)
	for _, t := range unsettled {
		if !t.SeatsReleased && t.BookingState == models.StateCancelled {
			if t = m.recycle(ctx, t); t.SeatsReleased {
				rep.Recycled++
			}
		}
		if t.PaymentStatus == models.PaymentCompleted {
			reason := "cancelled"
			if t.Cancellation != nil && t.Cancellation.Reason != "" {
				reason = t.Cancellation.Reason
			}
			t, err := m.refund(ctx, t, reason)
			if err != nil {
				errs = append(errs, err)
			} else if t.PaymentStatus == models.PaymentRefunded {
				rep.Refunded++
			}
		}
	}

	n, err := m.ledger.PruneSettled(ctx, r.pruneAge)
	errs = append(errs, err)
	rep.Pruned = n
	return rep, errors.Join(errs...)
}

// abandon ends a booking whose hold is gone. A payment that was captured
// anyway is carried forward instead.
func (r *Reconciler) abandon(ctx context.Context, t models.Ticket, rep *Report) {
	m := r.m
	logger := log.WithFields(log.Fields{"ticket": t.ID, "reservation": t.ReservationID, "state": t.BookingState})

	if pay, err := m.payments.Get(ctx, t.PaymentID); err == nil && pay.Status == models.PaymentCompleted {
		if t.BookingState == models.StateAuthorizing || t.BookingState == models.StateReleased {
			ok, err := m.advance(ctx, &t, models.StatePaymentConfirmed,
				TicketCond{States: []models.BookingState{models.StateAuthorizing, models.StateReleased}},
				TicketUpdate{PaymentStatus: ptr(models.PaymentCompleted)})
			if err != nil || !ok {
				return
			}
			logger.Info("found captured payment on an abandoned booking")
			if t, err = m.finalize(ctx, t); err == nil {
				rep.Committed++
			} else if t.BookingState == models.StateCancelled {
				rep.Refunded++
			}
		}
		return
	}

	switch t.BookingState {
	case models.StateReserved, models.StateAuthorizing, models.StatePaymentFailed:
	default:
		return
	}
	if err := m.ledger.Release(ctx, t.ReservationID); err != nil && !errors.Is(err, ledger.ErrReservationNotFound) {
		logger.WithError(err).Warn("hold not released")
		return
	}
	ok, err := m.advance(ctx, &t, models.StateReleased,
		TicketCond{States: []models.BookingState{models.StateReserved, models.StateAuthorizing, models.StatePaymentFailed}},
		TicketUpdate{PaymentStatus: ptr(models.PaymentFailed)})
	if err != nil || !ok {
		return
	}
	rep.Released++
	m.updatePayment(ctx, t.PaymentID, []models.PaymentStatus{models.PaymentPending, models.PaymentProcessing},
		payments.Update{Status: ptr(models.PaymentCancelled), FailureReason: ptr("reservation expired")})
	logger.Info("booking released after hold expiry")
	m.notify(t.UserID, "booking_expired", map[string]any{"ticketId": t.ID, "eventId": t.EventID})
}
