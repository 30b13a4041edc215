package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventhub/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps tiers under pricing.tiers and holds under holds on the
// event document, so each ledger step is one single-document update.
type MongoStore struct {
	events *mongo.Collection
}

func NewMongoStore(events *mongo.Collection) *MongoStore {
	return &MongoStore{events: events}
}

func (s *MongoStore) Hold(ctx context.Context, res models.Reservation) error {
	filter := bson.M{
		"_id": res.EventID,
		"pricing.tiers": bson.M{"$elemMatch": bson.M{
			"name":      res.Tier,
			"available": bson.M{"$gte": res.Quantity},
		}},
	}
	update := bson.M{
		"$inc": bson.M{
			"pricing.tiers.$.available": -res.Quantity,
			"pricing.tiers.$.held":      res.Quantity,
		},
		"$push": bson.M{"holds": res},
	}
	r, err := s.events.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("hold %d x %s: %w", res.Quantity, res.Tier, err)
	}
	if r.MatchedCount == 1 {
		return nil
	}
	return s.missReason(ctx, res.EventID, res.Tier)
}

// missReason explains why a conditional hold matched nothing.
func (s *MongoStore) missReason(ctx context.Context, eventID, tier string) error {
	tiers, err := s.Tiers(ctx, eventID)
	if err != nil {
		return err
	}
	for _, t := range tiers {
		if t.Name == tier {
			return ErrInsufficientInventory
		}
	}
	return ErrTierNotFound
}

func (s *MongoStore) Settle(ctx context.Context, res models.Reservation, from, to models.ReservationStatus, d Delta, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":   res.EventID,
		"holds": bson.M{"$elemMatch": bson.M{"id": res.ID, "status": from}},
	}
	update := bson.M{
		"$set": bson.M{
			"holds.$[h].status":    to,
			"holds.$[h].updatedAt": at,
		},
		"$inc": bson.M{
			"pricing.tiers.$[t].available": d.Available,
			"pricing.tiers.$[t].held":      d.Held,
			"pricing.tiers.$[t].sold":      d.Sold,
		},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"h.id": res.ID},
			bson.M{"t.name": res.Tier},
		},
	})
	r, err := s.events.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return false, err
	}
	return r.MatchedCount == 1, nil
}

func (s *MongoStore) Reservation(ctx context.Context, id string) (models.Reservation, error) {
	var doc struct {
		Holds []models.Reservation `bson:"holds"`
	}
	err := s.events.FindOne(ctx,
		bson.M{"holds.id": id},
		options.FindOne().SetProjection(bson.M{"holds.$": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(doc.Holds) == 0) {
		return models.Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("find reservation %s: %w", id, err)
	}
	return doc.Holds[0], nil
}

func (s *MongoStore) Expired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	overdue := bson.M{"status": models.ReservationHeld, "expiresAt": bson.M{"$lte": now}}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"holds": bson.M{"$elemMatch": overdue}}}},
		{{Key: "$unwind", Value: "$holds"}},
		{{Key: "$match", Value: bson.M{"holds.status": models.ReservationHeld, "holds.expiresAt": bson.M{"$lte": now}}}},
		{{Key: "$sort", Value: bson.M{"holds.expiresAt": 1}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$holds"}}},
	}
	cur, err := s.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var out []models.Reservation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Tiers(ctx context.Context, eventID string) ([]models.Tier, error) {
	var ev models.Event
	err := s.events.FindOne(ctx,
		bson.M{"_id": eventID},
		options.FindOne().SetProjection(bson.M{"pricing.tiers": 1}),
	).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tiers of %s: %w", eventID, err)
	}
	return ev.Pricing.Tiers, nil
}

// Resize compare-and-sets on the sold and held counters it read, so a
// concurrent hold or commit makes it re-read rather than overwrite.
func (s *MongoStore) Resize(ctx context.Context, eventID, tier string, quantity int) error {
	for attempt := 0; attempt < 3; attempt++ {
		tiers, err := s.Tiers(ctx, eventID)
		if err != nil {
			return err
		}
		var cur *models.Tier
		for i := range tiers {
			if tiers[i].Name == tier {
				cur = &tiers[i]
				break
			}
		}
		if cur == nil {
			return ErrTierNotFound
		}
		if quantity < cur.Sold+cur.Held {
			return ErrBelowAllocated
		}
		filter := bson.M{
			"_id": eventID,
			"pricing.tiers": bson.M{"$elemMatch": bson.M{
				"name": tier,
				"sold": cur.Sold,
				"held": cur.Held,
			}},
		}
		update := bson.M{"$set": bson.M{
			"pricing.tiers.$.quantity":  quantity,
			"pricing.tiers.$.available": quantity - cur.Sold - cur.Held,
		}}
		r, err := s.events.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("resize %s: %w", tier, err)
		}
		if r.MatchedCount == 1 {
			return nil
		}
	}
	return ErrConcurrentUpdate
}

func (s *MongoStore) Prune(ctx context.Context, eventID string, statuses []models.ReservationStatus, before time.Time) (int64, error) {
	settled := bson.M{"status": bson.M{"$in": statuses}, "updatedAt": bson.M{"$lt": before}}
	filter := bson.M{"holds": bson.M{"$elemMatch": settled}}
	if eventID != "" {
		filter["_id"] = eventID
	}
	r, err := s.events.UpdateMany(ctx, filter, bson.M{"$pull": bson.M{"holds": settled}})
	if err != nil {
		return 0, fmt.Errorf("prune holds: %w", err)
	}
	return r.ModifiedCount, nil
}
