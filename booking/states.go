package booking

import "eventhub/models"

// transitions is the booking state machine. RELEASED -> PAYMENT_CONFIRMED
// covers a capture that lands after the sweeper gave the hold back;
// PAYMENT_CONFIRMED -> CANCELLED is the refund exit when the tier sold out
// in the meantime.
var transitions = map[models.BookingState][]models.BookingState{
	models.StateRequested:        {models.StateReserved, models.StateReservationFailed},
	models.StateReserved:         {models.StateAuthorizing, models.StateReleased},
	models.StateAuthorizing:      {models.StatePaymentConfirmed, models.StatePaymentFailed, models.StateReleased},
	models.StatePaymentFailed:    {models.StateReleased},
	models.StateReleased:         {models.StatePaymentConfirmed},
	models.StatePaymentConfirmed: {models.StateCommitted, models.StateCancelled},
	models.StateCommitted:        {models.StateCancelled},
}

func CanTransition(from, to models.BookingState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
