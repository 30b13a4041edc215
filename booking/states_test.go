package booking

import (
	"testing"

	"eventhub/ledger"
	"eventhub/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]models.BookingState{
		{models.StateRequested, models.StateReserved},
		{models.StateReserved, models.StateAuthorizing},
		{models.StateAuthorizing, models.StatePaymentConfirmed},
		{models.StateAuthorizing, models.StatePaymentFailed},
		{models.StatePaymentFailed, models.StateReleased},
		{models.StateReleased, models.StatePaymentConfirmed},
		{models.StatePaymentConfirmed, models.StateCommitted},
		{models.StateCommitted, models.StateCancelled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]models.BookingState{
		{models.StateReserved, models.StateCommitted},
		{models.StateCommitted, models.StateReleased},
		{models.StateCancelled, models.StateCommitted},
		{models.StateReservationFailed, models.StateReserved},
		{models.StatePaymentFailed, models.StatePaymentConfirmed},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestOutcomeOfReplayedBooking(t *testing.T) {
	assert.NoError(t, outcome(models.Ticket{BookingState: models.StateCommitted}))
	assert.ErrorIs(t, outcome(models.Ticket{BookingState: models.StatePaymentConfirmed}), ErrCommitPending)
	assert.ErrorIs(t, outcome(models.Ticket{BookingState: models.StateAuthorizing}), ErrBookingInProgress)

	refunded := models.Ticket{
		BookingState: models.StateCancelled,
		Cancellation: &models.Cancellation{By: systemActor, Reason: soldOutReason},
	}
	assert.ErrorIs(t, outcome(refunded), ledger.ErrInsufficientInventory)
	assert.NoError(t, outcome(models.Ticket{
		BookingState: models.StateCancelled,
		Cancellation: &models.Cancellation{By: "u1", Reason: "can't make it"},
	}))
}
