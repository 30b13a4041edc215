package booking_test

import (
	"context"
	"testing"
	"time"

	"eventhub/models"
	"eventhub/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// abandoned leaves a booking the way a crashed request would: seats held,
// ticket and payment written, no gateway call ever made.
func abandoned(t *testing.T, h *harness, qty int) models.Ticket {
	t.Helper()
	ctx := context.Background()
	res, err := h.ledger.Reserve(ctx, "evt_1", "GA", qty, "u1")
	require.NoError(t, err)
	now := h.clock.Now()
	tk := models.Ticket{
		ID: "tkt_abandoned", EventID: "evt_1", UserID: "u1", Tier: "GA", Quantity: qty,
		ReservationID: res.ID, PaymentID: "pay_abandoned",
		BookingState: models.StateAuthorizing, PaymentStatus: models.PaymentProcessing, Status: models.TicketActive,
		Code: "TKT-ABANDONED", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.tickets.Insert(ctx, &tk))
	require.NoError(t, h.payments.Insert(ctx, &models.Payment{
		ID: "pay_abandoned", TicketID: tk.ID, UserID: "u1", EventID: "evt_1",
		Amount: models.MustMoney("51.75"), Status: models.PaymentProcessing, CreatedAt: now, UpdatedAt: now,
	}))
	return tk
}

func TestReconcilerExpiresAbandonedHolds(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk := abandoned(t, h, 3)
	assert.Equal(t, 3, h.tier("GA").Held)

	rep, err := h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired, "hold is still live")

	h.clock.Advance(holdTTL + time.Second)
	rep, err = h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Released)

	got, err := h.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateReleased, got.BookingState)
	pay, err := h.payments.Get(ctx, tk.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, pay.Status)

	ga := h.tier("GA")
	assert.Equal(t, 10, ga.Available)
	assert.Equal(t, 0, ga.Held)
	assert.Equal(t, []string{"booking_expired"}, h.notes.Kinds("u1"))

	// a second pass finds nothing left to do
	rep, err = h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired+rep.Released)
}

func TestReconcilerCommitsCapturedAbandonedBooking(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	tk := abandoned(t, h, 2)
	ok, err := h.payments.Update(ctx, tk.PaymentID, nil, paymentsCompleted())
	require.NoError(t, err)
	require.True(t, ok)

	h.clock.Advance(holdTTL + 2*time.Minute)
	rep, err := h.rec.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Committed)

	got, err := h.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCommitted, got.BookingState)
	assert.NotEqual(t, tk.ReservationID, got.ReservationID, "the expired hold is replaced")
	assert.Equal(t, 2, h.tier("GA").Sold)
	assert.Equal(t, 0, h.tier("GA").Held)
}

func paymentsCompleted() payments.Update {
	st := models.PaymentCompleted
	txn := "txn_offline"
	return payments.Update{Status: &st, TxnID: &txn}
}
