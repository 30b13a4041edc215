package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventhub/ledger"
	"eventhub/metrics"
	"eventhub/models"
	"eventhub/payments"
	"eventhub/utils"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	PaymentTimeout time.Duration
	CommitRetries  int
	CommitBackoff  time.Duration
	MaxPerBooking  int
	Currency       string
	// LockTTL bounds how long an idempotency key stays locked if the
	// holder dies mid-flight.
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 30 * time.Second
	}
	if c.CommitRetries <= 0 {
		c.CommitRetries = 5
	}
	if c.CommitBackoff <= 0 {
		c.CommitBackoff = 200 * time.Millisecond
	}
	if c.MaxPerBooking <= 0 {
		c.MaxPerBooking = 10
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	return c
}

// Deps are the collaborators of a Manager. Locker, Notifier and Waitlist
// may be nil.
type Deps struct {
	Ledger   *ledger.Ledger
	Gateway  payments.Gateway
	Events   EventReader
	Tickets  TicketStore
	Payments PaymentStore
	Users    UserDirectory
	Notifier Notifier
	Locker   Locker
	Waitlist Waitlist
	Now      func() time.Time
}

// Manager runs the purchase flow and the post-purchase lifecycle of a
// ticket. Inventory moves only through the ledger and money only through
// the gateway.
type Manager struct {
	cfg      Config
	ledger   *ledger.Ledger
	gateway  payments.Gateway
	events   EventReader
	tickets  TicketStore
	payments PaymentStore
	users    UserDirectory
	notifier Notifier
	locker   Locker
	waitlist Waitlist
	now      func() time.Time
}

func NewManager(cfg Config, d Deps) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		ledger:   d.Ledger,
		gateway:  d.Gateway,
		events:   d.Events,
		tickets:  d.Tickets,
		payments: d.Payments,
		users:    d.Users,
		notifier: d.Notifier,
		locker:   d.Locker,
		waitlist: d.Waitlist,
		now:      d.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

type BookRequest struct {
	EventID        string `json:"eventId" validate:"required"`
	Tier           string `json:"ticketType" validate:"required"`
	Quantity       int    `json:"quantity"`
	PaymentMethod  string `json:"paymentMethodId" validate:"required"`
	PromoCode      string `json:"promoCode,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Book reserves, charges and commits in one call. The returned error is
// nil only for a COMMITTED ticket; ErrCommitPending means the money moved
// and the reconciler will finish the booking.
func (m *Manager) Book(ctx context.Context, p models.Principal, req BookRequest) (models.Ticket, error) {
	started := m.now()
	ev, tier, err := m.validate(ctx, p, req)
	if err != nil {
		return models.Ticket{}, err
	}
	logger := log.WithFields(log.Fields{"user": p.ID, "event": ev.ID, "tier": tier.Name, "quantity": req.Quantity})

	if req.IdempotencyKey != "" {
		if t, ok, err := m.replay(ctx, p.ID, req.IdempotencyKey); err != nil || ok {
			return t, err
		}
		unlock, err := m.lock(ctx, p.ID, req.IdempotencyKey)
		if err != nil {
			return models.Ticket{}, err
		}
		defer unlock()
		// another request may have finished between the lookup and the lock
		if t, ok, err := m.replay(ctx, p.ID, req.IdempotencyKey); err != nil || ok {
			return t, err
		}
	}

	res, err := m.ledger.Reserve(ctx, ev.ID, tier.Name, req.Quantity, p.ID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientInventory):
			metrics.BookingFinished(string(models.StateReservationFailed), started)
			logger.Info("booking rejected, tier sold out")
			return models.Ticket{}, err
		case errors.Is(err, ledger.ErrTierNotFound):
			return models.Ticket{}, invalid("ticketType", "unknown ticket type")
		case errors.Is(err, ledger.ErrEventNotFound):
			return models.Ticket{}, err
		}
		return models.Ticket{}, &PersistenceError{Op: "reserve", Err: err}
	}

	quote := payments.QuoteFor(tier.Price.Decimal, req.Quantity)
	now := m.now()
	currency := ev.Pricing.Currency
	if currency == "" {
		currency = m.cfg.Currency
	}
	t := models.Ticket{
		ID:             utils.NewID("tkt"),
		EventID:        ev.ID,
		UserID:         p.ID,
		Tier:           tier.Name,
		Quantity:       req.Quantity,
		UnitPrice:      tier.Price,
		Subtotal:       models.NewMoney(quote.Subtotal),
		Fee:            models.NewMoney(quote.Fee),
		TotalAmount:    models.NewMoney(quote.Total),
		Currency:       currency,
		ReservationID:  res.ID,
		PaymentID:      utils.NewID("pay"),
		BookingState:   models.StateReserved,
		PaymentStatus:  models.PaymentPending,
		Status:         models.TicketActive,
		Code:           utils.GenerateTicketCode(),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pay := models.Payment{
		ID:        t.PaymentID,
		TicketID:  t.ID,
		UserID:    p.ID,
		EventID:   ev.ID,
		Amount:    t.TotalAmount,
		Currency:  currency,
		MethodRef: req.PaymentMethod,
		Status:    models.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.tickets.Insert(ctx, &t); err != nil {
		m.releaseHold(ctx, res.ID)
		if errors.Is(err, models.ErrDuplicate) && req.IdempotencyKey != "" {
			if prior, ok, rerr := m.replay(ctx, p.ID, req.IdempotencyKey); rerr == nil && ok {
				return prior, outcome(prior)
			}
		}
		return models.Ticket{}, &PersistenceError{Op: "save ticket", Err: err}
	}
	if err := m.payments.Insert(ctx, &pay); err != nil {
		m.releaseHold(ctx, res.ID)
		m.advance(ctx, &t, models.StateReleased, TicketCond{}, TicketUpdate{PaymentStatus: ptr(models.PaymentFailed)})
		return t, &PersistenceError{Op: "save payment", Err: err}
	}
	logger.WithField("ticket", t.ID).Debug("seats held")

	// the caller going away must not strand a charge half way
	base := context.WithoutCancel(ctx)
	t, err = m.pay(base, t, pay, res, req.PaymentMethod)
	metrics.BookingFinished(string(t.BookingState), started)
	return t, err
}

func (m *Manager) validate(ctx context.Context, p models.Principal, req BookRequest) (models.Event, models.Tier, error) {
	var (
		ev   models.Event
		tier models.Tier
	)
	if p.Anonymous() {
		return ev, tier, ErrNotAuthorized
	}
	switch {
	case strings.TrimSpace(req.EventID) == "":
		return ev, tier, invalid("eventId", "is required")
	case strings.TrimSpace(req.Tier) == "":
		return ev, tier, invalid("ticketType", "is required")
	case strings.TrimSpace(req.PaymentMethod) == "":
		return ev, tier, invalid("paymentMethodId", "is required")
	case req.Quantity < 1:
		return ev, tier, invalid("quantity", "must be at least 1")
	case req.Quantity > m.cfg.MaxPerBooking:
		return ev, tier, invalid("quantity", fmt.Sprintf("must be at most %d", m.cfg.MaxPerBooking))
	case req.PromoCode != "":
		return ev, tier, invalid("promoCode", "promo codes are not supported")
	}
	ev, err := m.events.Event(ctx, req.EventID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ev, tier, fmt.Errorf("event %w", ErrNotFound)
		}
		return ev, tier, &PersistenceError{Op: "load event", Err: err}
	}
	if ev.Status != models.EventPublished {
		return ev, tier, invalid("eventId", "event is not on sale")
	}
	if ev.Started(m.now()) {
		return ev, tier, invalid("eventId", "event has already started")
	}
	tier, ok := ev.Tier(req.Tier)
	if !ok {
		return ev, tier, invalid("ticketType", "unknown ticket type")
	}
	return ev, tier, nil
}

// pay runs authorize and confirm against the gateway. Calls are bounded by
// the payment timeout and by the hold expiry, whichever is first.
func (m *Manager) pay(ctx context.Context, t models.Ticket, pay models.Payment, res models.Reservation, method string) (models.Ticket, error) {
	logger := log.WithFields(log.Fields{"ticket": t.ID, "reservation": res.ID})

	ok, err := m.advance(ctx, &t, models.StateAuthorizing, TicketCond{}, TicketUpdate{PaymentStatus: ptr(models.PaymentProcessing)})
	if err != nil || !ok {
		m.releaseHold(ctx, res.ID)
		if err == nil {
			err = ErrConflict
		}
		return t, &PersistenceError{Op: "start payment", Err: err}
	}
	m.updatePayment(ctx, pay.ID, []models.PaymentStatus{models.PaymentPending}, payments.Update{Status: ptr(models.PaymentProcessing)})

	timeout := m.cfg.PaymentTimeout
	if left := res.ExpiresAt.Sub(m.now()); left < timeout {
		timeout = left
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	auth, err := m.gateway.Authorize(gctx, payments.AuthorizeRequest{
		Amount:         t.TotalAmount.Decimal,
		Currency:       t.Currency,
		MethodRef:      method,
		Description:    fmt.Sprintf("%d x %s", t.Quantity, t.Tier),
		IdempotencyKey: res.ID + ":authorize",
		Metadata:       map[string]string{"ticketId": t.ID, "eventId": t.EventID},
	})
	if err != nil {
		return m.fail(ctx, t, pay, err)
	}
	m.updatePayment(ctx, pay.ID, nil, payments.Update{AuthID: &auth.ID})

	conf, err := m.gateway.Confirm(gctx, auth.ID, res.ID+":confirm")
	if err != nil {
		return m.fail(ctx, t, pay, err)
	}
	logger.WithField("txn", conf.TxnID).Info("payment captured")
	return m.confirmed(ctx, t, pay, conf.TxnID)
}

// fail gives the seats back after a decline or a gateway error.
func (m *Manager) fail(ctx context.Context, t models.Ticket, pay models.Payment, cause error) (models.Ticket, error) {
	if !errors.Is(cause, payments.ErrDeclined) && !errors.Is(cause, payments.ErrGateway) {
		cause = fmt.Errorf("%w: %v", payments.ErrGateway, cause)
	}
	log.WithFields(log.Fields{"ticket": t.ID, "reservation": t.ReservationID}).WithError(cause).Warn("payment failed, releasing hold")

	m.advance(ctx, &t, models.StatePaymentFailed, TicketCond{States: []models.BookingState{models.StateAuthorizing}}, TicketUpdate{PaymentStatus: ptr(models.PaymentFailed)})
	if err := m.releaseHold(ctx, t.ReservationID); err == nil {
		m.advance(ctx, &t, models.StateReleased, TicketCond{States: []models.BookingState{models.StatePaymentFailed}}, TicketUpdate{})
	}
	m.updatePayment(ctx, pay.ID, []models.PaymentStatus{models.PaymentPending, models.PaymentProcessing},
		payments.Update{Status: ptr(models.PaymentFailed), FailureReason: ptr(cause.Error())})
	m.notify(t.UserID, "booking_failed", map[string]any{"ticketId": t.ID, "eventId": t.EventID, "reason": cause.Error()})
	return m.reload(ctx, t), cause
}

// confirmed records a capture and commits the seats.
func (m *Manager) confirmed(ctx context.Context, t models.Ticket, pay models.Payment, txnID string) (models.Ticket, error) {
	err := m.retry(ctx, func(ctx context.Context) error {
		_, err := m.payments.Update(ctx, pay.ID, nil, payments.Update{Status: ptr(models.PaymentCompleted), TxnID: &txnID})
		return err
	})
	if err != nil {
		log.WithFields(log.Fields{"ticket": t.ID, "payment": pay.ID, "txn": txnID}).WithError(err).Error("captured payment could not be recorded")
	}

	var ok bool
	err = m.retry(ctx, func(ctx context.Context) error {
		var err error
		ok, err = m.advance(ctx, &t, models.StatePaymentConfirmed,
			TicketCond{States: []models.BookingState{models.StateAuthorizing, models.StateReleased}},
			TicketUpdate{PaymentStatus: ptr(models.PaymentCompleted)})
		return err
	})
	if err != nil {
		return t, pending(err)
	}
	if !ok {
		t = m.reload(ctx, t)
		if t.BookingState != models.StatePaymentConfirmed {
			// the reconciler already took it further
			return t, outcome(t)
		}
	}
	return m.finalize(ctx, t)
}

// finalize commits the hold of a PAYMENT_CONFIRMED ticket, re-reserving
// when the hold expired while the payment was in flight.
func (m *Manager) finalize(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	err := m.commitHold(ctx, t.ReservationID)
	if errors.Is(err, ledger.ErrReservationClosed) || errors.Is(err, ledger.ErrReservationNotFound) {
		return m.rehold(ctx, t)
	}
	if err != nil {
		log.WithField("ticket", t.ID).WithError(err).Warn("commit deferred to reconciler")
		return t, pending(err)
	}
	return m.markCommitted(ctx, t)
}

func (m *Manager) rehold(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	logger := log.WithFields(log.Fields{"ticket": t.ID, "expired": t.ReservationID})
	res, err := m.ledger.Reserve(ctx, t.EventID, t.Tier, t.Quantity, t.UserID)
	switch {
	case errors.Is(err, ledger.ErrInsufficientInventory), errors.Is(err, ledger.ErrTierNotFound), errors.Is(err, ledger.ErrEventNotFound):
		logger.Warn("hold expired during payment and the tier is gone, refunding")
		return m.refundUnfulfilled(ctx, t)
	case err != nil:
		return t, pending(err)
	}
	logger.WithField("reservation", res.ID).Info("hold expired during payment, re-reserved")

	// record the new hold first so a later retry commits this one
	err = m.retry(ctx, func(ctx context.Context) error {
		_, err := m.tickets.Update(ctx, t.ID, TicketCond{States: []models.BookingState{models.StatePaymentConfirmed}}, TicketUpdate{ReservationID: &res.ID})
		return err
	})
	if err != nil {
		m.releaseHold(ctx, res.ID)
		return t, pending(err)
	}
	t.ReservationID = res.ID
	if err := m.commitHold(ctx, res.ID); err != nil {
		return t, pending(err)
	}
	return m.markCommitted(ctx, t)
}

func (m *Manager) markCommitted(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	var ok bool
	err := m.retry(ctx, func(ctx context.Context) error {
		var err error
		ok, err = m.advance(ctx, &t, models.StateCommitted, TicketCond{States: []models.BookingState{models.StatePaymentConfirmed}}, TicketUpdate{PaymentStatus: ptr(models.PaymentCompleted)})
		return err
	})
	if err != nil {
		return t, pending(err)
	}
	if !ok {
		t = m.reload(ctx, t)
		return t, outcome(t)
	}
	log.WithFields(log.Fields{"ticket": t.ID, "user": t.UserID, "event": t.EventID}).Info("booking committed")
	m.notify(t.UserID, "booking_confirmed", map[string]any{
		"ticketId": t.ID, "eventId": t.EventID, "ticketType": t.Tier, "quantity": t.Quantity, "code": t.Code,
		"total": t.TotalAmount.StringFixed(2), "currency": t.Currency,
	})
	return t, nil
}

const (
	systemActor   = "system"
	soldOutReason = "tickets sold out while payment was processing"
)

// refundUnfulfilled cancels a paid ticket whose seats could not be
// secured. A failed refund is retried by the reconciler.
func (m *Manager) refundUnfulfilled(ctx context.Context, t models.Ticket) (models.Ticket, error) {
	ok, err := m.advance(ctx, &t, models.StateCancelled, TicketCond{States: []models.BookingState{models.StatePaymentConfirmed}}, TicketUpdate{
		Status:        ptr(models.TicketCancelled),
		SeatsReleased: ptr(true),
		Cancellation:  &models.Cancellation{At: m.now(), By: systemActor, Reason: soldOutReason},
	})
	if err != nil {
		return t, pending(err)
	}
	if !ok {
		t = m.reload(ctx, t)
		return t, outcome(t)
	}
	if t, err = m.refund(ctx, t, soldOutReason); err != nil {
		log.WithField("ticket", t.ID).WithError(err).Warn("refund deferred to reconciler")
	}
	m.notify(t.UserID, "booking_failed", map[string]any{"ticketId": t.ID, "eventId": t.EventID, "reason": soldOutReason, "refunded": true})
	return t, outcome(t)
}

// advance moves t to state to with a conditional write. cond.States
// defaults to t's current state.
func (m *Manager) advance(ctx context.Context, t *models.Ticket, to models.BookingState, cond TicketCond, upd TicketUpdate) (bool, error) {
	if len(cond.States) == 0 {
		cond.States = []models.BookingState{t.BookingState}
	}
	for _, from := range cond.States {
		if !CanTransition(from, to) {
			return false, fmt.Errorf("illegal booking transition %s -> %s", from, to)
		}
	}
	upd.State = &to
	ok, err := m.tickets.Update(ctx, t.ID, cond, upd)
	if err != nil {
		log.WithFields(log.Fields{"ticket": t.ID, "to": to}).WithError(err).Warn("ticket update failed")
		return false, err
	}
	if ok {
		upd.Apply(t, m.now())
	}
	return ok, nil
}

func (m *Manager) updatePayment(ctx context.Context, id string, from []models.PaymentStatus, upd payments.Update) {
	if _, err := m.payments.Update(ctx, id, from, upd); err != nil {
		log.WithField("payment", id).WithError(err).Warn("payment update failed")
	}
}

func (m *Manager) commitHold(ctx context.Context, id string) error {
	return m.retry(ctx, func(ctx context.Context) error {
		err := m.ledger.Commit(ctx, id)
		if errors.Is(err, ledger.ErrReservationClosed) || errors.Is(err, ledger.ErrReservationNotFound) {
			return utils.Permanent(err)
		}
		return err
	})
}

func (m *Manager) releaseHold(ctx context.Context, id string) error {
	err := m.retry(ctx, func(ctx context.Context) error {
		err := m.ledger.Release(ctx, id)
		if errors.Is(err, ledger.ErrReservationNotFound) {
			return utils.Permanent(err)
		}
		return err
	})
	if err != nil {
		log.WithField("reservation", id).WithError(err).Warn("hold not released, the sweeper will expire it")
	}
	return err
}

func (m *Manager) retry(ctx context.Context, fn func(context.Context) error) error {
	return utils.Retry(ctx, m.cfg.CommitRetries, m.cfg.CommitBackoff, fn)
}

func (m *Manager) reload(ctx context.Context, t models.Ticket) models.Ticket {
	fresh, err := m.tickets.Get(ctx, t.ID)
	if err != nil {
		return t
	}
	return fresh
}

func (m *Manager) notify(userID, kind string, payload map[string]any) {
	if m.notifier != nil {
		m.notifier.Dispatch(userID, kind, payload)
	}
}

// replay looks up an earlier booking with the same idempotency key.
func (m *Manager) replay(ctx context.Context, userID, key string) (models.Ticket, bool, error) {
	t, err := m.tickets.ByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, models.ErrNotFound) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, &PersistenceError{Op: "idempotency lookup", Err: err}
	}
	return t, true, outcome(t)
}

func (m *Manager) lock(ctx context.Context, userID, key string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	name := "booking:" + userID + ":" + key
	ok, err := m.locker.Acquire(ctx, name, m.cfg.LockTTL)
	if err != nil {
		// the unique index on (userId, idempotencyKey) still catches duplicates
		log.WithField("key", name).WithError(err).Warn("idempotency lock unavailable")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrBookingInProgress
	}
	return func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), name); err != nil {
			log.WithField("key", name).WithError(err).Warn("idempotency lock not released")
		}
	}, nil
}

// outcome is the error a replayed booking reports for its current state.
// A ticket cancelled by the system was refunded before it ever committed.
func outcome(t models.Ticket) error {
	switch t.BookingState {
	case models.StateCommitted:
		return nil
	case models.StateCancelled:
		if t.Cancellation != nil && t.Cancellation.By == systemActor {
			return fmt.Errorf("%w: %s, payment refunded", ledger.ErrInsufficientInventory, t.Cancellation.Reason)
		}
		return nil
	case models.StatePaymentConfirmed:
		return ErrCommitPending
	case models.StatePaymentFailed, models.StateReleased:
		return fmt.Errorf("%w: an earlier attempt with this key did not complete", payments.ErrDeclined)
	case models.StateReservationFailed:
		return ledger.ErrInsufficientInventory
	}
	return ErrBookingInProgress
}
