// Package ledgertest provides an in-memory ledger.Store with the same
// conditional semantics as the Mongo store, for tests.
package ledgertest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"eventhub/ledger"
	"eventhub/models"
)

type Store struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func NewStore(events ...models.Event) *Store {
	s := &Store{events: map[string]*models.Event{}}
	for _, ev := range events {
		s.Seed(ev)
	}
	return s
}

// Seed adds or replaces an event. Tier counters are taken as given.
func (s *Store) Seed(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clone(ev)
	s.events[ev.ID] = &cp
}

// Event returns a copy of the stored event, holds included.
func (s *Store) Event(_ context.Context, id string) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return models.Event{}, ledger.ErrEventNotFound
	}
	return clone(*ev), nil
}

// Tier returns a copy of one tier, or the zero Tier.
func (s *Store) Tier(eventID, name string) models.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[eventID]; ok {
		if t := tier(ev, name); t != nil {
			return *t
		}
	}
	return models.Tier{}
}

func (s *Store) Hold(_ context.Context, res models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[res.EventID]
	if !ok {
		return ledger.ErrEventNotFound
	}
	t := tier(ev, res.Tier)
	if t == nil {
		return ledger.ErrTierNotFound
	}
	if t.Available < res.Quantity {
		return ledger.ErrInsufficientInventory
	}
	t.Available -= res.Quantity
	t.Held += res.Quantity
	ev.Holds = append(ev.Holds, res)
	return nil
}

func (s *Store) Settle(_ context.Context, res models.Reservation, from, to models.ReservationStatus, d ledger.Delta, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[res.EventID]
	if !ok {
		return false, nil
	}
	idx := slices.IndexFunc(ev.Holds, func(h models.Reservation) bool {
		return h.ID == res.ID && h.Status == from
	})
	if idx < 0 {
		return false, nil
	}
	t := tier(ev, res.Tier)
	if t == nil {
		return false, nil
	}
	ev.Holds[idx].Status = to
	ev.Holds[idx].UpdatedAt = at
	t.Available += d.Available
	t.Held += d.Held
	t.Sold += d.Sold
	return true, nil
}

func (s *Store) Reservation(_ context.Context, id string) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		for _, h := range ev.Holds {
			if h.ID == id {
				return h, nil
			}
		}
	}
	return models.Reservation{}, ledger.ErrReservationNotFound
}

func (s *Store) Expired(_ context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, ev := range s.events {
		for _, h := range ev.Holds {
			if h.Status == models.ReservationHeld && !h.ExpiresAt.After(now) {
				out = append(out, h)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Tiers(_ context.Context, eventID string) ([]models.Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, ledger.ErrEventNotFound
	}
	return slices.Clone(ev.Pricing.Tiers), nil
}

func (s *Store) Resize(_ context.Context, eventID, name string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return ledger.ErrEventNotFound
	}
	t := tier(ev, name)
	if t == nil {
		return ledger.ErrTierNotFound
	}
	if quantity < t.Sold+t.Held {
		return ledger.ErrBelowAllocated
	}
	t.Quantity = quantity
	t.Available = quantity - t.Sold - t.Held
	return nil
}

func (s *Store) Prune(_ context.Context, eventID string, statuses []models.ReservationStatus, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var touched int64
	for id, ev := range s.events {
		if eventID != "" && id != eventID {
			continue
		}
		n := len(ev.Holds)
		ev.Holds = slices.DeleteFunc(ev.Holds, func(h models.Reservation) bool {
			return slices.Contains(statuses, h.Status) && h.UpdatedAt.Before(before)
		})
		if len(ev.Holds) != n {
			touched++
		}
	}
	return touched, nil
}

func tier(ev *models.Event, name string) *models.Tier {
	for i := range ev.Pricing.Tiers {
		if ev.Pricing.Tiers[i].Name == name {
			return &ev.Pricing.Tiers[i]
		}
	}
	return nil
}

func clone(ev models.Event) models.Event {
	ev.Pricing.Tiers = slices.Clone(ev.Pricing.Tiers)
	ev.Holds = slices.Clone(ev.Holds)
	ev.Tags = slices.Clone(ev.Tags)
	return ev
}
