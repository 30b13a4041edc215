package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventhub/booking"
	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the Mongo ticket collection. Every state change is a
// conditional UpdateOne so concurrent writers cannot both win.
type Store struct {
	col *mongo.Collection
	now func() time.Time
}

func NewStore(col *mongo.Collection) *Store {
	return &Store{col: col, now: time.Now}
}

func (s *Store) Insert(ctx context.Context, t *models.Ticket) error {
	_, err := s.col.InsertOne(ctx, t)
	if db.IsDuplicateKey(err) {
		return fmt.Errorf("ticket %s: %w", t.ID, models.ErrDuplicate)
	}
	return err
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Ticket, error) {
	var t models.Ticket
	err := s.col.FindOne(ctx, filter).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return t, models.ErrNotFound
	}
	return t, err
}

func (s *Store) Get(ctx context.Context, id string) (models.Ticket, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Store) ByIdempotencyKey(ctx context.Context, userID, key string) (models.Ticket, error) {
	return s.findOne(ctx, bson.M{"userId": userID, "idempotencyKey": key})
}

func (s *Store) ByCode(ctx context.Context, code string) (models.Ticket, error) {
	return s.findOne(ctx, bson.M{"code": code})
}

func (s *Store) ByReservation(ctx context.Context, reservationID string) (models.Ticket, error) {
	return s.findOne(ctx, bson.M{"reservationId": reservationID})
}

func (s *Store) Update(ctx context.Context, id string, cond booking.TicketCond, upd booking.TicketUpdate) (bool, error) {
	res, err := s.col.UpdateOne(ctx, condFilter(id, cond), updateDoc(upd, s.now()))
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Ticket, error) {
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.Ticket{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Stuck(ctx context.Context, states []models.BookingState, before time.Time, limit int) ([]models.Ticket, error) {
	filter := bson.M{"bookingState": bson.M{"$in": states}, "updatedAt": bson.M{"$lt": before}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}).SetLimit(int64(limit)))
}

func (s *Store) Unsettled(ctx context.Context, before time.Time, limit int) ([]models.Ticket, error) {
	filter := bson.M{
		"bookingState": models.StateCancelled,
		"updatedAt":    bson.M{"$lt": before},
		"$or": bson.A{
			bson.M{"paymentStatus": models.PaymentCompleted},
			bson.M{"seatsReleased": bson.M{"$ne": true}},
		},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}}).SetLimit(int64(limit)))
}

// visibleStates are the booking states a holder sees in their list;
// abandoned attempts stay out of it.
var visibleStates = []models.BookingState{models.StatePaymentConfirmed, models.StateCommitted, models.StateCancelled}

func (s *Store) ByUser(ctx context.Context, userID string, status models.TicketStatus, page utils.Page) ([]models.Ticket, int64, error) {
	filter := bson.M{"userId": userID, "bookingState": bson.M{"$in": visibleStates}}
	if status != "" {
		filter["status"] = status
	}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	list, err := s.find(ctx, filter, opts)
	return list, total, err
}

// ByEvent returns every ticket of an event that got as far as payment.
func (s *Store) ByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	filter := bson.M{"eventId": eventID, "bookingState": bson.M{"$in": visibleStates}}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

// HoldsTicket reports whether userID currently holds a paid ticket for
// the event, used or not.
func (s *Store) HoldsTicket(ctx context.Context, userID, eventID string) (bool, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{
		"userId":       userID,
		"eventId":      eventID,
		"bookingState": models.StateCommitted,
		"status":       bson.M{"$in": []models.TicketStatus{models.TicketActive, models.TicketUsed, models.TicketTransferred}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func condFilter(id string, c booking.TicketCond) bson.M {
	f := bson.M{"_id": id}
	if len(c.States) > 0 {
		f["bookingState"] = bson.M{"$in": c.States}
	}
	if len(c.Statuses) > 0 {
		f["status"] = bson.M{"$in": c.Statuses}
	}
	if len(c.PaymentStatuses) > 0 {
		f["paymentStatus"] = bson.M{"$in": c.PaymentStatuses}
	}
	if c.UserID != "" {
		f["userId"] = c.UserID
	}
	return f
}

func updateDoc(u booking.TicketUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if u.State != nil {
		set["bookingState"] = *u.State
	}
	if u.PaymentStatus != nil {
		set["paymentStatus"] = *u.PaymentStatus
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.ReservationID != nil {
		set["reservationId"] = *u.ReservationID
	}
	if u.UserID != nil {
		set["userId"] = *u.UserID
	}
	if u.SeatsReleased != nil {
		set["seatsReleased"] = *u.SeatsReleased
	}
	if u.CheckIn != nil {
		set["checkIn"] = *u.CheckIn
	}
	if u.Cancellation != nil {
		set["cancellation"] = *u.Cancellation
	}
	doc := bson.M{"$set": set}
	if u.Transfer != nil {
		doc["$push"] = bson.M{"transferHistory": *u.Transfer}
	}
	return doc
}
