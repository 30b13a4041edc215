package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventhub/metrics"
	"eventhub/models"
	"eventhub/mq"
	"eventhub/utils"

	log "github.com/sirupsen/logrus"
)

const DefaultHoldTTL = 10 * time.Minute

// Notifier receives the tier counters after every mutation.
type Notifier interface {
	EmitInventory(ctx context.Context, u mq.InventoryUpdate)
}

// Ledger is the only writer of tier counters. Reservations move
// held -> committed|released|expired and committed -> recycled; every move
// is a single conditional write in the Store.
type Ledger struct {
	store    Store
	holdTTL  time.Duration
	notifier Notifier
	now      func() time.Time
}

type Option func(*Ledger)

func WithHoldTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.holdTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		holdTTL: DefaultHoldTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) HoldTTL() time.Duration {
	return l.holdTTL
}

// Reserve holds qty units of a tier for userID until the hold expires. It
// either holds all of them or none.
func (l *Ledger) Reserve(ctx context.Context, eventID, tier string, qty int, userID string) (models.Reservation, error) {
	if qty <= 0 {
		return models.Reservation{}, ErrInvalidQuantity
	}
	now := l.now()
	res := models.Reservation{
		ID:        utils.NewID("res"),
		EventID:   eventID,
		Tier:      tier,
		Quantity:  qty,
		UserID:    userID,
		Status:    models.ReservationHeld,
		ExpiresAt: now.Add(l.holdTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Hold(ctx, res); err != nil {
		if errors.Is(err, ErrInsufficientInventory) {
			metrics.LedgerOp("reserve", "sold_out")
		} else {
			metrics.LedgerOp("reserve", "error")
		}
		return models.Reservation{}, err
	}
	metrics.LedgerOp("reserve", "ok")
	metrics.HoldOpened()
	log.WithFields(log.Fields{
		"reservation": res.ID,
		"event":       eventID,
		"tier":        tier,
		"quantity":    qty,
	}).Debug("inventory held")

	l.publish(ctx, eventID)
	return res, nil
}

// Commit turns a held reservation into sold units. Committing twice is a
// no-op; committing a released or expired reservation is ErrReservationClosed.
func (l *Ledger) Commit(ctx context.Context, id string) error {
	_, _, err := l.transition(ctx, "commit", id, models.ReservationCommitted)
	return err
}

// Release returns held units to available. It is a no-op for reservations
// that are no longer held.
func (l *Ledger) Release(ctx context.Context, id string) error {
	_, _, err := l.transition(ctx, "release", id, models.ReservationReleased)
	return err
}

// Expire is Release on behalf of the sweeper.
func (l *Ledger) Expire(ctx context.Context, id string) (bool, error) {
	_, changed, err := l.transition(ctx, "expire", id, models.ReservationExpired)
	return changed, err
}

// Recycle returns the units of a committed reservation to available after
// its ticket was cancelled. A reservation that is still held is released.
func (l *Ledger) Recycle(ctx context.Context, id string) error {
	_, _, err := l.transition(ctx, "recycle", id, models.ReservationRecycled)
	return err
}

func (l *Ledger) Reservation(ctx context.Context, id string) (models.Reservation, error) {
	return l.store.Reservation(ctx, id)
}

// ExpireStale expires up to limit overdue holds and returns those this
// call expired.
func (l *Ledger) ExpireStale(ctx context.Context, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	stale, err := l.store.Expired(ctx, l.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}
	var expired []models.Reservation
	var errs []error
	for _, res := range stale {
		changed, err := l.Expire(ctx, res.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", res.ID, err))
			continue
		}
		if changed {
			res.Status = models.ReservationExpired
			expired = append(expired, res)
		}
	}
	return expired, errors.Join(errs...)
}

func (l *Ledger) Availability(ctx context.Context, eventID string) ([]models.Tier, error) {
	return l.store.Tiers(ctx, eventID)
}

// Resize changes a tier's total quantity. It refuses to shrink below the
// units already sold or held.
func (l *Ledger) Resize(ctx context.Context, eventID, tier string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	if err := l.store.Resize(ctx, eventID, tier, quantity); err != nil {
		metrics.LedgerOp("resize", "error")
		return err
	}
	metrics.LedgerOp("resize", "ok")
	l.publish(ctx, eventID)
	return nil
}

// PruneSettled drops released and expired holds older than age.
func (l *Ledger) PruneSettled(ctx context.Context, age time.Duration) (int64, error) {
	return l.store.Prune(ctx, "", []models.ReservationStatus{models.ReservationReleased, models.ReservationExpired}, l.now().Add(-age))
}

// PruneEvent drops every settled hold of an event that can no longer change,
// e.g. once it has completed.
func (l *Ledger) PruneEvent(ctx context.Context, eventID string) (int64, error) {
	return l.store.Prune(ctx, eventID, []models.ReservationStatus{
		models.ReservationCommitted,
		models.ReservationRecycled,
		models.ReservationReleased,
		models.ReservationExpired,
	}, l.now())
}

func (l *Ledger) transition(ctx context.Context, op, id string, target models.ReservationStatus) (models.Reservation, bool, error) {
	res, err := l.store.Reservation(ctx, id)
	if err != nil {
		return models.Reservation{}, false, err
	}
	// One re-read covers losing a race with the sweeper or a retried call.
	for attempt := 0; attempt < 2; attempt++ {
		from, to, delta, done, err := plan(res, target)
		if err != nil || done {
			return res, false, err
		}
		ok, err := l.store.Settle(ctx, res, from, to, delta, l.now())
		if err != nil {
			metrics.LedgerOp(op, "error")
			return res, false, fmt.Errorf("%s reservation %s: %w", op, id, err)
		}
		if ok {
			metrics.LedgerOp(op, "ok")
			if from == models.ReservationHeld {
				metrics.HoldClosed()
			}
			res.Status = to
			log.WithFields(log.Fields{"reservation": id, "event": res.EventID, "from": from, "to": to}).Debug("reservation settled")
			l.publish(ctx, res.EventID)
			return res, true, nil
		}
		if res, err = l.store.Reservation(ctx, id); err != nil {
			return models.Reservation{}, false, err
		}
	}
	return res, false, fmt.Errorf("%s reservation %s: %w", op, id, ErrConcurrentUpdate)
}

// plan decides the write that moves res toward target. done means there is
// nothing left to do.
func plan(res models.Reservation, target models.ReservationStatus) (from, to models.ReservationStatus, d Delta, done bool, err error) {
	q := res.Quantity
	switch target {
	case models.ReservationCommitted:
		switch res.Status {
		case models.ReservationHeld:
			return models.ReservationHeld, target, Delta{Held: -q, Sold: q}, false, nil
		case models.ReservationCommitted, models.ReservationRecycled:
			return "", "", Delta{}, true, nil
		default:
			return "", "", Delta{}, true, ErrReservationClosed
		}
	case models.ReservationReleased, models.ReservationExpired:
		if res.Status == models.ReservationHeld {
			return models.ReservationHeld, target, Delta{Available: q, Held: -q}, false, nil
		}
		return "", "", Delta{}, true, nil
	case models.ReservationRecycled:
		switch res.Status {
		case models.ReservationCommitted:
			return models.ReservationCommitted, target, Delta{Available: q, Sold: -q}, false, nil
		case models.ReservationHeld:
			return models.ReservationHeld, models.ReservationReleased, Delta{Available: q, Held: -q}, false, nil
		default:
			return "", "", Delta{}, true, nil
		}
	}
	return "", "", Delta{}, true, fmt.Errorf("unsupported reservation target %q", target)
}

func (l *Ledger) publish(ctx context.Context, eventID string) {
	if l.notifier == nil {
		return
	}
	tiers, err := l.store.Tiers(ctx, eventID)
	if err != nil {
		log.WithError(err).WithField("event", eventID).Warn("read tiers for inventory update")
		return
	}
	l.notifier.EmitInventory(ctx, Snapshot(eventID, tiers, l.now()))
}

// Snapshot converts tier counters into the wire update.
func Snapshot(eventID string, tiers []models.Tier, at time.Time) mq.InventoryUpdate {
	u := mq.InventoryUpdate{EventID: eventID, At: at, Tiers: make([]mq.TierCount, 0, len(tiers))}
	for _, t := range tiers {
		u.Tiers = append(u.Tiers, mq.TierCount{
			Name:      t.Name,
			Quantity:  t.Quantity,
			Sold:      t.Sold,
			Held:      t.Held,
			Available: t.Available,
		})
	}
	return u
}
