package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventhub/booking"
	"eventhub/booking/bookingtest"
	"eventhub/models"
	"eventhub/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	organizer = models.Principal{ID: "org_1", Roles: []string{models.RoleOrganizer}}
	admin     = models.Principal{ID: "adm_1", Roles: []string{models.RoleAdmin}}
)

func TestCancelRefundsOnceAndRecyclesSeats(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 2)
	require.NoError(t, err)

	got, err := h.m.Cancel(ctx, user("u1"), tk.ID, "can't make it")
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, got.BookingState)
	assert.Equal(t, models.TicketCancelled, got.Status)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "can't make it", got.Cancellation.Reason)

	ga := h.tier("GA")
	assert.Equal(t, 10, ga.Available)
	assert.Equal(t, 0, ga.Sold)
	assertBalanced(t, ga)

	pay, err := h.payments.Get(ctx, tk.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, pay.Status)
	require.NotNil(t, pay.Refund)
	assert.True(t, pay.Refund.Amount.Equal(tk.TotalAmount.Decimal))

	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	var verr *booking.ValidationError
	assert.ErrorAs(t, err, &verr)

	h.clock.Advance(time.Hour)
	_, err = h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.Refunds())
	assert.Equal(t, 10, h.tier("GA").Available)
	assert.Equal(t, []bookingtest.Freed{{EventID: "evt_1", Tier: "GA", Qty: 2}}, h.waitlist.Freed())
}

func TestRefundFailureIsRetriedByReconciler(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	down := true
	h.gw.BeforeRefund = func(payments.RefundRequest) error {
		if down {
			return assert.AnError
		}
		return nil
	}
	got, err := h.m.Cancel(ctx, user("u1"), tk.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, 0, h.gw.Refunds())

	down = false
	h.clock.Advance(2 * time.Minute)
	rep, err := h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Refunded)
	assert.Equal(t, 1, h.gw.Refunds())

	got, err = h.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	_, err = h.m.Cancel(ctx, user("u2"), tk.ID, "")
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	_, err = h.m.Cancel(ctx, user("u1"), "tkt_missing", "")
	assert.ErrorIs(t, err, booking.ErrNotFound)

	h.clock.Advance(73 * time.Hour)
	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	var verr *booking.ValidationError
	require.ErrorAs(t, err, &verr)

	// admins may cancel after the start
	got, err := h.m.Cancel(ctx, admin, tk.ID, "venue flooded")
	require.NoError(t, err)
	assert.Equal(t, "adm_1", got.Cancellation.By)
}

func TestCancelNeedsTheEventStart(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	h.reader.err = errors.New("mongo: connection reset")
	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	var perr *booking.PersistenceError
	require.ErrorAs(t, err, &perr)

	got, err := h.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCommitted, got.BookingState)
	assert.Equal(t, models.TicketActive, got.Status)
	assert.Equal(t, 0, h.gw.Refunds())

	h.reader.err = nil
	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	require.NoError(t, err)
}

func TestCheckInAdmitsOnce(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	_, err = h.m.CheckIn(ctx, user("u1"), tk.ID, "Gate A")
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	first, err := h.m.CheckIn(ctx, organizer, tk.ID, "Gate A")
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, first.Status)
	require.NotNil(t, first.CheckIn)
	assert.Equal(t, "org_1", first.CheckIn.By)

	h.clock.Advance(time.Minute)
	second, err := h.m.CheckInByCode(ctx, organizer, tk.Code, "Gate B")
	assert.ErrorIs(t, err, booking.ErrAlreadyCheckedIn)
	require.NotNil(t, second.CheckIn)
	assert.Equal(t, first.CheckIn.At, second.CheckIn.At)
	assert.Equal(t, "Gate A", second.CheckIn.Location)

	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	var verr *booking.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCheckInRejectsCancelledTicket(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)
	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	require.NoError(t, err)

	_, err = h.m.CheckIn(ctx, admin, tk.ID, "")
	var verr *booking.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = h.m.CheckInByCode(ctx, organizer, "TKT-NOPE", "")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestTransferMovesOwnership(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	var verr *booking.ValidationError
	_, err = h.m.Transfer(ctx, user("u1"), tk.ID, "alice@example.com", "")
	assert.ErrorAs(t, err, &verr, "self transfer")
	_, err = h.m.Transfer(ctx, user("u1"), tk.ID, "nobody@example.com", "")
	assert.ErrorAs(t, err, &verr, "unknown recipient")
	_, err = h.m.Transfer(ctx, user("u2"), tk.ID, "bob@example.com", "")
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	got, err := h.m.Transfer(ctx, user("u1"), tk.ID, " Bob@Example.com ", "gift")
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, models.TicketTransferred, got.Status)
	require.Len(t, got.TransferHistory, 1)
	assert.Equal(t, models.Transfer{From: "u1", To: "u2", Reason: "gift", At: t0}, got.TransferHistory[0])

	_, err = h.m.Cancel(ctx, user("u1"), tk.ID, "")
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	// the new holder can still get in
	in, err := h.m.CheckIn(ctx, organizer, tk.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TicketUsed, in.Status)
	assert.Contains(t, h.notes.Kinds("u2"), "ticket_received")
}

func TestTicketVisibility(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk, err := h.book("u1", "GA", 1)
	require.NoError(t, err)

	for _, p := range []models.Principal{user("u1"), organizer, admin} {
		got, err := h.m.Ticket(ctx, p, tk.ID)
		require.NoError(t, err, p.ID)
		assert.Equal(t, tk.ID, got.ID)
	}
	_, err = h.m.Ticket(ctx, user("u2"), tk.ID)
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)
}
