package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	InventoryChannel    = "inventory-updates"
	NotificationChannel = "notifications"
)

type TierCount struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Sold      int    `json:"sold"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
}

// InventoryUpdate is published after every ledger mutation and fanned out
// to live event subscribers.
type InventoryUpdate struct {
	EventID string      `json:"eventId"`
	Tiers   []TierCount `json:"tiers"`
	At      time.Time   `json:"at"`
}

// Delivery is handed to the email/push collaborators through Redis.
type Delivery struct {
	NotificationID string         `json:"notificationId"`
	UserID         string         `json:"userId"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Channels       []string       `json:"channels"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Emitter publishes JSON messages to Redis channels. A nil Emitter drops
// everything, which keeps tests and Redis-less development runs simple.
type Emitter struct {
	rdb redis.Cmdable
}

func NewEmitter(rdb redis.Cmdable) *Emitter {
	return &Emitter{rdb: rdb}
}

func (e *Emitter) EmitInventory(ctx context.Context, u InventoryUpdate) {
	e.publish(ctx, InventoryChannel, u)
}

func (e *Emitter) EmitDelivery(ctx context.Context, d Delivery) {
	e.publish(ctx, NotificationChannel, d)
}

func (e *Emitter) publish(ctx context.Context, channel string, v any) {
	if e == nil || e.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("channel", channel).Error("marshal message")
		return
	}
	if err := e.rdb.Publish(ctx, channel, data).Err(); err != nil {
		log.WithError(err).WithField("channel", channel).Warn("publish to redis")
	}
}

// Subscribe feeds every message on channel to handle until ctx is done.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, handle func([]byte)) {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	log.WithField("channel", channel).Info("listening for messages")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handle([]byte(msg.Payload))
		}
	}
}
