package models

import "time"

type BookingState string

const (
	StateRequested         BookingState = "REQUESTED"
	StateReserved          BookingState = "RESERVED"
	StateReservationFailed BookingState = "RESERVATION_FAILED"
	StateAuthorizing       BookingState = "AUTHORIZING"
	StatePaymentFailed     BookingState = "PAYMENT_FAILED"
	StateReleased          BookingState = "RELEASED"
	StatePaymentConfirmed  BookingState = "PAYMENT_CONFIRMED"
	StateCommitted         BookingState = "COMMITTED"
	StateCancelled         BookingState = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

type TicketStatus string

const (
	TicketActive      TicketStatus = "active"
	TicketUsed        TicketStatus = "used"
	TicketCancelled   TicketStatus = "cancelled"
	TicketTransferred TicketStatus = "transferred"
)

type CheckIn struct {
	At       time.Time `json:"at" bson:"at"`
	By       string    `json:"by" bson:"by"`
	Location string    `json:"location,omitempty" bson:"location,omitempty"`
}

type Transfer struct {
	From   string    `json:"from" bson:"from"`
	To     string    `json:"to" bson:"to"`
	Reason string    `json:"reason,omitempty" bson:"reason,omitempty"`
	At     time.Time `json:"at" bson:"at"`
}

type Cancellation struct {
	At     time.Time `json:"at" bson:"at"`
	By     string    `json:"by" bson:"by"`
	Reason string    `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Ticket is the purchase record. Its BookingState tracks the purchase flow
// while Status tracks what the holder can still do with it.
type Ticket struct {
	ID              string        `json:"id" bson:"_id"`
	EventID         string        `json:"eventId" bson:"eventId"`
	UserID          string        `json:"userId" bson:"userId"`
	Tier            string        `json:"ticketType" bson:"tier"`
	Quantity        int           `json:"quantity" bson:"quantity"`
	UnitPrice       Money         `json:"unitPrice" bson:"unitPrice"`
	Subtotal        Money         `json:"subtotal" bson:"subtotal"`
	Fee             Money         `json:"fee" bson:"fee"`
	TotalAmount     Money         `json:"totalAmount" bson:"totalAmount"`
	Currency        string        `json:"currency" bson:"currency"`
	ReservationID   string        `json:"reservationId" bson:"reservationId"`
	PaymentID       string        `json:"paymentId" bson:"paymentId"`
	BookingState    BookingState  `json:"bookingState" bson:"bookingState"`
	PaymentStatus   PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	Status          TicketStatus  `json:"status" bson:"status"`
	Code            string        `json:"code" bson:"code"`
	IdempotencyKey  string        `json:"-" bson:"idempotencyKey,omitempty"`
	SeatsReleased   bool          `json:"-" bson:"seatsReleased,omitempty"`
	CheckIn         *CheckIn      `json:"checkIn,omitempty" bson:"checkIn,omitempty"`
	TransferHistory []Transfer    `json:"transferHistory,omitempty" bson:"transferHistory,omitempty"`
	Cancellation    *Cancellation `json:"cancellation,omitempty" bson:"cancellation,omitempty"`
	CreatedAt       time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updatedAt"`
}
