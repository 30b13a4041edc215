package models

import "time"

const (
	ChannelInApp = "inApp"
	ChannelEmail = "email"
	ChannelPush  = "push"
)

type NotificationStatus struct {
	InApp string `json:"inApp" bson:"inApp"` // unread | read
}

type Notification struct {
	ID        string             `json:"id" bson:"_id"`
	UserID    string             `json:"userId" bson:"userId"`
	Type      string             `json:"type" bson:"type"`
	Title     string             `json:"title" bson:"title"`
	Message   string             `json:"message" bson:"message"`
	Payload   map[string]any     `json:"payload,omitempty" bson:"payload,omitempty"`
	Channels  []string           `json:"channels" bson:"channels"`
	Status    NotificationStatus `json:"status" bson:"status"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}
