package ledgertest

import (
	"sync"
	"time"

	"eventhub/models"
)

// Clock is a settable time source for ledger.WithClock and friends.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Event builds a published event with fresh tiers. Tiers are given as
// name/price/quantity triples.
func Event(id, organizerID string, start time.Time, tiers ...models.Tier) models.Event {
	for i := range tiers {
		tiers[i].Available = tiers[i].Quantity - tiers[i].Sold - tiers[i].Held
	}
	return models.Event{
		ID:          id,
		Title:       "Event " + id,
		OrganizerID: organizerID,
		Status:      models.EventPublished,
		Venue:       models.Venue{Name: "Hall", City: "Lisbon"},
		Schedule:    models.Schedule{Start: start, End: start.Add(3 * time.Hour)},
		Pricing:     models.Pricing{Currency: "usd", Tiers: tiers},
		CreatedAt:   start.Add(-30 * 24 * time.Hour),
	}
}

func Tier(name, price string, quantity int) models.Tier {
	return models.Tier{Name: name, Price: models.MustMoney(price), Quantity: quantity}
}
