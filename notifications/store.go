package notifications

import (
	"context"
	"time"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	Unread = "unread"
	Read   = "read"
)

type Store interface {
	Insert(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, page utils.Page) ([]models.Notification, int64, error)
	Unread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	if col == nil {
		col = db.NotificationsCollection
	}
	return &MongoStore{col: col}
}

func (s *MongoStore) Insert(ctx context.Context, n *models.Notification) error {
	_, err := s.col.InsertOne(ctx, n)
	return err
}

func (s *MongoStore) List(ctx context.Context, userID string, unreadOnly bool, page utils.Page) ([]models.Notification, int64, error) {
	filter := bson.M{"userId": userID}
	if unreadOnly {
		filter["status.inApp"] = Unread
	}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := s.col.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit)))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []models.Notification{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *MongoStore) Unread(ctx context.Context, userID string) (int64, error) {
	return s.col.CountDocuments(ctx, bson.M{"userId": userID, "status.inApp": Unread})
}

func (s *MongoStore) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id, "userId": userID},
		bson.M{"$set": bson.M{"status.inApp": Read, "readAt": time.Now()}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.col.UpdateMany(ctx, bson.M{"userId": userID, "status.inApp": Unread},
		bson.M{"$set": bson.M{"status.inApp": Read, "readAt": time.Now()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}
