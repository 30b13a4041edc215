package models

import "time"

type Refund struct {
	Amount          Money     `json:"amount" bson:"amount"`
	At              time.Time `json:"at" bson:"at"`
	Reason          string    `json:"reason,omitempty" bson:"reason,omitempty"`
	GatewayRefundID string    `json:"gatewayRefundId" bson:"gatewayRefundId"`
}

type Payment struct {
	ID            string        `json:"id" bson:"_id"`
	TicketID      string        `json:"ticketId" bson:"ticketId"`
	UserID        string        `json:"userId" bson:"userId"`
	EventID       string        `json:"eventId" bson:"eventId"`
	Amount        Money         `json:"amount" bson:"amount"`
	Currency      string        `json:"currency" bson:"currency"`
	MethodRef     string        `json:"-" bson:"methodRef"`
	AuthID        string        `json:"-" bson:"authId,omitempty"`
	GatewayTxnID  string        `json:"transactionId,omitempty" bson:"gatewayTxnId,omitempty"`
	Status        PaymentStatus `json:"status" bson:"status"`
	FailureReason string        `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	Refund        *Refund       `json:"refund,omitempty" bson:"refund,omitempty"`
	CreatedAt     time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt" bson:"updatedAt"`
}
