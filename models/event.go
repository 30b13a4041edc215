package models

import "time"

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventPostponed EventStatus = "postponed"
	EventCompleted EventStatus = "completed"
)

type Venue struct {
	Name     string `json:"name" bson:"name" validate:"required"`
	Address  string `json:"address" bson:"address"`
	City     string `json:"city" bson:"city"`
	Country  string `json:"country" bson:"country"`
	Capacity int    `json:"capacity" bson:"capacity" validate:"gte=0"`
}

type Schedule struct {
	Start    time.Time `json:"start" bson:"start" validate:"required"`
	End      time.Time `json:"end" bson:"end" validate:"required,gtfield=Start"`
	Timezone string    `json:"timezone" bson:"timezone"`
}

// Tier is a named price class. Sold, Held and Available are owned by the
// inventory ledger; sold + held + available == quantity at all times.
type Tier struct {
	Name        string `json:"name" bson:"name"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Price       Money  `json:"price" bson:"price"`
	Quantity    int    `json:"quantity" bson:"quantity"`
	Sold        int    `json:"sold" bson:"sold"`
	Held        int    `json:"held" bson:"held"`
	Available   int    `json:"available" bson:"available"`
}

type Pricing struct {
	Currency string `json:"currency" bson:"currency"`
	Tiers    []Tier `json:"tiers" bson:"tiers"`
}

type Event struct {
	ID          string        `json:"id" bson:"_id"`
	Title       string        `json:"title" bson:"title"`
	Description string        `json:"description" bson:"description"`
	Category    string        `json:"category" bson:"category"`
	OrganizerID string        `json:"organizerId" bson:"organizerId"`
	Venue       Venue         `json:"venue" bson:"venue"`
	Schedule    Schedule      `json:"schedule" bson:"schedule"`
	Pricing     Pricing       `json:"pricing" bson:"pricing"`
	Status      EventStatus   `json:"status" bson:"status"`
	Banner      string        `json:"banner,omitempty" bson:"banner,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
	Tags        []string      `json:"tags,omitempty" bson:"tags,omitempty"`
	Holds       []Reservation `json:"-" bson:"holds,omitempty"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt"`
}

func (e *Event) Tier(name string) (Tier, bool) {
	for _, t := range e.Pricing.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

func (e *Event) Started(now time.Time) bool {
	return !e.Schedule.Start.IsZero() && !now.Before(e.Schedule.Start)
}
