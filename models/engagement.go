package models

import "time"

// WaitlistEntry is a user waiting for seats of one tier. NotifiedAt is set
// once seats were offered to them.
type WaitlistEntry struct {
	ID         string     `json:"id" bson:"_id"`
	EventID    string     `json:"eventId" bson:"eventId"`
	Tier       string     `json:"ticketType" bson:"tier"`
	UserID     string     `json:"userId" bson:"userId"`
	JoinedAt   time.Time  `json:"joinedAt" bson:"joinedAt"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty" bson:"notifiedAt"`
}

type Review struct {
	ID        string    `json:"id" bson:"_id"`
	EventID   string    `json:"eventId" bson:"eventId"`
	UserID    string    `json:"userId" bson:"userId"`
	Rating    int       `json:"rating" bson:"rating"`
	Comment   string    `json:"comment,omitempty" bson:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type RatingSummary struct {
	Average float64 `json:"average" bson:"average"`
	Count   int     `json:"count" bson:"count"`
}

type WishlistItem struct {
	UserID  string    `json:"userId" bson:"userId"`
	EventID string    `json:"eventId" bson:"eventId"`
	AddedAt time.Time `json:"addedAt" bson:"addedAt"`
}
