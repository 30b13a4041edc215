package models

import "time"

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
	ReservationRecycled  ReservationStatus = "recycled"
)

// Reservation is a hold on units of one tier. It is stored inside the
// event document so that its status and the tier counters change together.
type Reservation struct {
	ID        string            `json:"id" bson:"id"`
	EventID   string            `json:"eventId" bson:"eventId"`
	Tier      string            `json:"tier" bson:"tier"`
	Quantity  int               `json:"quantity" bson:"quantity"`
	UserID    string            `json:"userId" bson:"userId"`
	Status    ReservationStatus `json:"status" bson:"status"`
	ExpiresAt time.Time         `json:"expiresAt" bson:"expiresAt"`
	CreatedAt time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt" bson:"updatedAt"`
}
