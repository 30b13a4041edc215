// Package notifications records user notifications and hands them to the
// delivery services without ever blocking the caller.
package notifications

import (
	"context"
	"sync"
	"time"

	"eventhub/metrics"
	"eventhub/models"
	"eventhub/mq"
	"eventhub/utils"

	log "github.com/sirupsen/logrus"
)

// Deliverer forwards a stored notification to the email/SMS/push services.
type Deliverer interface {
	EmitDelivery(ctx context.Context, d mq.Delivery)
}

type job struct {
	userID  string
	kind    string
	payload map[string]any
	at      time.Time
}

type Dispatcher struct {
	queue   chan job
	store   Store
	deliver Deliverer
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewDispatcher(store Store, deliver Deliverer, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1024
	}
	return &Dispatcher{queue: make(chan job, queueSize), store: store, deliver: deliver, now: time.Now}
}

// Dispatch queues a notification. When the queue is full the notification
// is dropped and counted.
func (d *Dispatcher) Dispatch(userID, kind string, payload map[string]any) {
	if userID == "" {
		return
	}
	select {
	case d.queue <- job{userID: userID, kind: kind, payload: payload, at: d.now()}:
	default:
		metrics.NotificationDrop()
		log.WithFields(log.Fields{"user": userID, "type": kind}).Warn("notification queue full, dropping")
	}
}

// Start runs workers until ctx is done. Wait blocks until they have exited.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	for i := 0; i < max(workers, 1); i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.queue:
					d.handle(context.WithoutCancel(ctx), j)
				}
			}
		}()
	}
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	title, message, channels := render(j.kind, j.payload)
	n := models.Notification{
		ID:        utils.NewID("ntf"),
		UserID:    j.userID,
		Type:      j.kind,
		Title:     title,
		Message:   message,
		Payload:   j.payload,
		Channels:  channels,
		Status:    models.NotificationStatus{InApp: Unread},
		CreatedAt: j.at,
	}
	logger := log.WithFields(log.Fields{"user": j.userID, "type": j.kind})
	if err := d.store.Insert(ctx, &n); err != nil {
		logger.WithError(err).Warn("notification not stored")
	}
	if d.deliver != nil {
		d.deliver.EmitDelivery(ctx, mq.Delivery{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			Channels:       n.Channels,
			Payload:        n.Payload,
		})
	}
	logger.Debug("notification dispatched")
}
