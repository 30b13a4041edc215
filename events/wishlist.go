package events

import (
	"context"
	"errors"
	"net/http"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WishlistStore remembers events a user saved for later.
type WishlistStore interface {
	// Add is idempotent. The first add keeps its timestamp.
	Add(ctx context.Context, item models.WishlistItem) error
	Remove(ctx context.Context, userID, eventID string) (bool, error)
	// List returns event ids, most recently saved first.
	List(ctx context.Context, userID string, page utils.Page) ([]string, int64, error)
}

type MongoWishlist struct {
	col *mongo.Collection
}

func NewMongoWishlist(col *mongo.Collection) *MongoWishlist {
	if col == nil {
		col = db.WishlistCollection
	}
	return &MongoWishlist{col: col}
}

func (s *MongoWishlist) Add(ctx context.Context, item models.WishlistItem) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"userId": item.UserID, "eventId": item.EventID},
		bson.M{"$setOnInsert": item},
		options.Update().SetUpsert(true))
	// two concurrent upserts can race on the unique index; either way it is saved
	if db.IsDuplicateKey(err) {
		return nil
	}
	return err
}

func (s *MongoWishlist) Remove(ctx context.Context, userID, eventID string) (bool, error) {
	res, err := s.col.DeleteOne(ctx, bson.M{"userId": userID, "eventId": eventID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoWishlist) List(ctx context.Context, userID string, page utils.Page) ([]string, int64, error) {
	filter := bson.M{"userId": userID}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "addedAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	var items []models.WishlistItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.EventID)
	}
	return ids, total, nil
}

// POST /events/:id/wishlist
func (h *Handlers) Wish(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.visible(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	p := utils.GetPrincipal(r)
	item := models.WishlistItem{UserID: p.ID, EventID: ev.ID, AddedAt: h.now()}
	if err := h.wishlist.Add(r.Context(), item); err != nil {
		h.fail(w, err, "failed to update wishlist")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "added to wishlist"})
}

// DELETE /events/:id/wishlist and DELETE /users/wishlist/:eventId
func (h *Handlers) Unwish(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if id == "" {
		id = ps.ByName("eventId")
	}
	removed, err := h.wishlist.Remove(r.Context(), utils.GetPrincipal(r).ID, id)
	if err != nil {
		h.fail(w, err, "failed to update wishlist")
		return
	}
	if !removed {
		utils.RespondWithError(w, http.StatusNotFound, "event is not on your wishlist")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "removed from wishlist"})
}

// GET /users/wishlist
//
// Events deleted since they were saved are left out.
func (h *Handlers) Wishlist(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	page := utils.ParsePage(r, 20, 100)
	ids, total, err := h.wishlist.List(r.Context(), p.ID, page)
	if err != nil {
		h.fail(w, err, "failed to load wishlist")
		return
	}
	out := make([]models.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := h.repo.Event(r.Context(), id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			log.WithError(err).WithField("event", id).Error("load wishlist event")
			utils.RespondWithError(w, http.StatusInternalServerError, "failed to load wishlist")
			return
		}
		if ev.Status == models.EventDraft && !canManage(p, ev) {
			continue
		}
		out = append(out, ev)
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"events": out, "pagination": utils.Pagination(page, total)})
}
