// Package userdata reads accounts from the users collection. Accounts are
// written by the auth service; this side never modifies them.
package userdata

import (
	"context"
	"errors"
	"strings"

	"eventhub/db"
	"eventhub/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Directory struct {
	col *mongo.Collection
}

func NewDirectory(col *mongo.Collection) *Directory {
	if col == nil {
		col = db.UserCollection
	}
	return &Directory{col: col}
}

// public fields only; credentials stay in the collection
var userFields = bson.M{"_id": 1, "username": 1, "email": 1, "name": 1, "role": 1, "createdAt": 1}

func (d *Directory) ByEmail(ctx context.Context, email string) (models.User, error) {
	return d.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (d *Directory) ByID(ctx context.Context, id string) (models.User, error) {
	return d.findOne(ctx, bson.M{"_id": id})
}

func (d *Directory) findOne(ctx context.Context, filter bson.M) (models.User, error) {
	var u models.User
	err := d.col.FindOne(ctx, filter, options.FindOne().SetProjection(userFields)).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return u, models.ErrNotFound
	}
	return u, err
}

// NormalizeEmail is the form emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
