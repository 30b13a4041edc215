package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventhub/models"
	"eventhub/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Update lists the payment fields to change; nil fields are left alone.
type Update struct {
	Status        *models.PaymentStatus
	AuthID        *string
	TxnID         *string
	FailureReason *string
	Refund        *models.Refund
}

type Store struct {
	col *mongo.Collection
	now func() time.Time
}

func NewStore(col *mongo.Collection) *Store {
	return &Store{col: col, now: time.Now}
}

func (s *Store) Insert(ctx context.Context, p *models.Payment) error {
	if _, err := s.col.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("payment for ticket %s: %w", p.TicketID, models.ErrDuplicate)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Payment, error) {
	var p models.Payment
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return p, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	return p, err
}

// Update applies upd if the payment is currently in one of the from
// statuses (any status when from is empty).
func (s *Store) Update(ctx context.Context, id string, from []models.PaymentStatus, upd Update) (bool, error) {
	filter := bson.M{"_id": id}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}
	set := bson.M{"updatedAt": s.now()}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.AuthID != nil {
		set["authId"] = *upd.AuthID
	}
	if upd.TxnID != nil {
		set["gatewayTxnId"] = *upd.TxnID
	}
	if upd.FailureReason != nil {
		set["failureReason"] = *upd.FailureReason
	}
	if upd.Refund != nil {
		set["refund"] = upd.Refund
	}
	r, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("update payment %s: %w", id, err)
	}
	return r.MatchedCount == 1, nil
}

type HistoryFilter struct {
	Status  string
	EventID string
	From    time.Time
	To      time.Time
}

func historyQuery(userID string, f HistoryFilter) bson.M {
	q := bson.M{"userId": userID}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.EventID != "" {
		q["eventId"] = f.EventID
	}
	created := bson.M{}
	if !f.From.IsZero() {
		created["$gte"] = f.From
	}
	if !f.To.IsZero() {
		created["$lte"] = f.To
	}
	if len(created) > 0 {
		q["createdAt"] = created
	}
	return q
}

func (s *Store) History(ctx context.Context, userID string, f HistoryFilter, page utils.Page) ([]models.Payment, int64, error) {
	q := historyQuery(userID, f)
	total, err := s.col.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.col.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	out := []models.Payment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
