package notifications

import (
	"fmt"

	"eventhub/models"
)

type template struct {
	title    string
	message  func(p map[string]any) string
	channels []string
}

var (
	inAppEmail = []string{models.ChannelInApp, models.ChannelEmail}
	everywhere = []string{models.ChannelInApp, models.ChannelEmail, models.ChannelPush}
)

var templates = map[string]template{
	"booking_confirmed": {"Booking confirmed", func(p map[string]any) string {
		return fmt.Sprintf("Your %v ticket(s) are confirmed. Total charged: %v %v.", str(p, "quantity"), str(p, "total"), str(p, "currency"))
	}, everywhere},
	"booking_failed": {"Booking failed", func(p map[string]any) string {
		if refunded, _ := p["refunded"].(bool); refunded {
			return "No tickets were booked and your payment was refunded: " + str(p, "reason") + "."
		}
		return "We could not take your payment and no tickets were booked: " + str(p, "reason") + "."
	}, inAppEmail},
	"booking_expired": {"Booking expired", func(map[string]any) string {
		return "Your seats were released because payment did not complete in time."
	}, inAppEmail},
	"booking_cancelled": {"Booking cancelled", func(p map[string]any) string {
		return fmt.Sprintf("Your ticket was cancelled. A refund of %s %s is on its way.", str(p, "amount"), str(p, "currency"))
	}, inAppEmail},
	"ticket_transferred": {"Ticket transferred", func(p map[string]any) string {
		return "Your ticket was transferred to " + str(p, "to") + "."
	}, inAppEmail},
	"ticket_received": {"You received a ticket", func(map[string]any) string {
		return "A ticket was transferred to you. It is now in My Tickets."
	}, everywhere},
	"event_cancelled": {"Event cancelled", func(p map[string]any) string {
		return str(p, "title") + " has been cancelled. Your ticket will be refunded."
	}, everywhere},
	"event_postponed": {"Event postponed", func(p map[string]any) string {
		return str(p, "title") + " has been postponed. Your ticket stays valid."
	}, everywhere},
	"event_resumed": {"Event back on", func(p map[string]any) string {
		return str(p, "title") + " is back on sale and going ahead."
	}, everywhere},
	"waitlist_available": {"Tickets available", func(p map[string]any) string {
		return str(p, "ticketType") + " tickets for " + str(p, "title") + " are available again. Book soon, seats go first come first served."
	}, everywhere},
	"event_rescheduled": {"Event rescheduled", func(p map[string]any) string {
		return str(p, "title") + " has a new date."
	}, everywhere},
}

// render builds the user-facing text for a notification kind. Unknown
// kinds still reach the inbox with a generic message.
func render(kind string, payload map[string]any) (title, message string, channels []string) {
	t, ok := templates[kind]
	if !ok {
		return "Update", "You have a new update.", []string{models.ChannelInApp}
	}
	return t.title, t.message(payload), t.channels
}

func str(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
