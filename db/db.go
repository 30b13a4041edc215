package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	Client *mongo.Client

	EventsCollection        *mongo.Collection
	TicketsCollection       *mongo.Collection
	PaymentsCollection      *mongo.Collection
	NotificationsCollection *mongo.Collection
	ForumsCollection        *mongo.Collection
	PostsCollection         *mongo.Collection
	UserCollection          *mongo.Collection
	IdempotencyCollection   *mongo.Collection
	WaitlistCollection      *mongo.Collection
	ReviewsCollection       *mongo.Collection
	WishlistCollection      *mongo.Collection
)

// Connect opens the Mongo client and binds the collection handles.
func Connect(ctx context.Context, uri, database string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping MongoDB: %w", err)
	}

	Client = client
	d := client.Database(database)
	EventsCollection = d.Collection("events")
	TicketsCollection = d.Collection("tickets")
	PaymentsCollection = d.Collection("payments")
	NotificationsCollection = d.Collection("notifications")
	ForumsCollection = d.Collection("forums")
	PostsCollection = d.Collection("posts")
	UserCollection = d.Collection("users")
	IdempotencyCollection = d.Collection("idempotency")
	WaitlistCollection = d.Collection("waitlist")
	ReviewsCollection = d.Collection("reviews")
	WishlistCollection = d.Collection("wishlists")

	log.WithField("database", database).Info("connected to MongoDB")
	return nil
}

func Disconnect(ctx context.Context) error {
	if Client == nil {
		return nil
	}
	return Client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the stores rely on for uniqueness and
// for the sweeper's queries.
func EnsureIndexes(ctx context.Context) error {
	specs := map[*mongo.Collection][]mongo.IndexModel{
		EventsCollection: {
			{Keys: bson.D{{Key: "holds.id", Value: 1}}, Options: options.Index().SetName("hold_id")},
			{Keys: bson.D{{Key: "holds.status", Value: 1}, {Key: "holds.expiresAt", Value: 1}}, Options: options.Index().SetName("hold_expiry")},
			{Keys: bson.D{{Key: "organizerId", Value: 1}}, Options: options.Index().SetName("organizer")},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "schedule.start", Value: 1}}, Options: options.Index().SetName("listing")},
			{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}, {Key: "tags", Value: "text"}}, Options: options.Index().SetName("search")},
		},
		TicketsCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_code")},
			{
				Keys: bson.D{{Key: "userId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_booking_key").
					SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_tickets")},
			{Keys: bson.D{{Key: "eventId", Value: 1}}, Options: options.Index().SetName("event_tickets")},
			{Keys: bson.D{{Key: "reservationId", Value: 1}}, Options: options.Index().SetName("reservation")},
			{Keys: bson.D{{Key: "bookingState", Value: 1}, {Key: "updatedAt", Value: 1}}, Options: options.Index().SetName("reconcile")},
		},
		PaymentsCollection: {
			{Keys: bson.D{{Key: "ticketId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_ticket")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_payments")},
		},
		NotificationsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_notifications")},
		},
		ForumsCollection: {
			{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_forum_name")},
		},
		PostsCollection: {
			{Keys: bson.D{{Key: "forumId", Value: 1}, {Key: "pinned", Value: -1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("forum_posts")},
		},
		UserCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_email")},
		},
		WaitlistCollection: {
			{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "tier", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_waiter")},
			{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "tier", Value: 1}, {Key: "notifiedAt", Value: 1}, {Key: "joinedAt", Value: 1}}, Options: options.Index().SetName("queue")},
		},
		ReviewsCollection: {
			{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("one_review_per_user")},
			{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("event_reviews")},
		},
		WishlistCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_wish")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "addedAt", Value: -1}}, Options: options.Index().SetName("user_wishlist")},
		},
		IdempotencyCollection: {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_key")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		},
	}
	for col, idx := range specs {
		if _, err := col.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err)
}
