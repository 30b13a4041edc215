package events

import (
	"context"
	"errors"
	"time"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Changes lists event fields an organizer may edit. Nil fields stay as
// they are. Tier counters never go through here.
type Changes struct {
	Title       *string
	Description *string
	Category    *string
	Venue       *models.Venue
	Schedule    *models.Schedule
	Tags        []string
	Banner      *string
	Thumbnail   *string
}

// Repository is what the handlers need from event storage.
type Repository interface {
	Event(ctx context.Context, id string) (models.Event, error)
	Insert(ctx context.Context, ev *models.Event) error
	List(ctx context.Context, q Query, page utils.Page) ([]models.Event, int64, error)
	ByOrganizer(ctx context.Context, organizerID string, page utils.Page) ([]models.Event, int64, error)
	Update(ctx context.Context, id string, c Changes) error
	AddTier(ctx context.Context, id string, t models.Tier) error
	SetTierInfo(ctx context.Context, id, tier string, price models.Money, description string) error
	SetStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Store struct {
	col *mongo.Collection
	now func() time.Time
}

func NewStore(col *mongo.Collection) *Store {
	if col == nil {
		col = db.EventsCollection
	}
	return &Store{col: col, now: time.Now}
}

// holds are ledger internals and never leave the store
var noHolds = bson.M{"holds": 0}

func (s *Store) Event(ctx context.Context, id string) (models.Event, error) {
	var ev models.Event
	err := s.col.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(noHolds)).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ev, models.ErrNotFound
	}
	return ev, err
}

func (s *Store) Insert(ctx context.Context, ev *models.Event) error {
	_, err := s.col.InsertOne(ctx, ev)
	if db.IsDuplicateKey(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *Store) find(ctx context.Context, filter bson.M, sort bson.D, page utils.Page) ([]models.Event, int64, error) {
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetProjection(noHolds).
		SetSort(sort).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []models.Event{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) List(ctx context.Context, q Query, page utils.Page) ([]models.Event, int64, error) {
	return s.find(ctx, q.Filter(), q.Sort(), page)
}

func (s *Store) ByOrganizer(ctx context.Context, organizerID string, page utils.Page) ([]models.Event, int64, error) {
	return s.find(ctx, bson.M{"organizerId": organizerID}, bson.D{{Key: "createdAt", Value: -1}}, page)
}

func (s *Store) Update(ctx context.Context, id string, c Changes) error {
	set := bson.M{"updatedAt": s.now()}
	if c.Title != nil {
		set["title"] = *c.Title
	}
	if c.Description != nil {
		set["description"] = *c.Description
	}
	if c.Category != nil {
		set["category"] = *c.Category
	}
	if c.Venue != nil {
		set["venue"] = *c.Venue
	}
	if c.Schedule != nil {
		set["schedule"] = *c.Schedule
	}
	if c.Tags != nil {
		set["tags"] = c.Tags
	}
	if c.Banner != nil {
		set["banner"] = *c.Banner
	}
	if c.Thumbnail != nil {
		set["thumbnail"] = *c.Thumbnail
	}
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AddTier appends a tier unless one with the same name exists.
func (s *Store) AddTier(ctx context.Context, id string, t models.Tier) error {
	t.Sold, t.Held, t.Available = 0, 0, t.Quantity
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "pricing.tiers.name": bson.M{"$ne": t.Name}},
		bson.M{"$push": bson.M{"pricing.tiers": t}, "$set": bson.M{"updatedAt": s.now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// SetTierInfo changes the price and description of a tier. Prices apply to
// bookings made afterwards; existing tickets keep what they paid.
func (s *Store) SetTierInfo(ctx context.Context, id, tier string, price models.Money, description string) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "pricing.tiers.name": tier},
		bson.M{"$set": bson.M{
			"pricing.tiers.$.price":       price,
			"pricing.tiers.$.description": description,
			"updatedAt":                   s.now(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": to, "updatedAt": s.now()}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Delete removes an event only while no tier has sold or held a seat.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.col.DeleteOne(ctx, bson.M{
		"_id": id,
		"pricing.tiers": bson.M{"$not": bson.M{"$elemMatch": bson.M{
			"$or": bson.A{bson.M{"sold": bson.M{"$gt": 0}}, bson.M{"held": bson.M{"$gt": 0}}},
		}}},
	})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}
