package events

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReviewStore holds one review per user and event.
type ReviewStore interface {
	Add(ctx context.Context, rv models.Review) error
	List(ctx context.Context, eventID string, page utils.Page) ([]models.Review, int64, error)
	Summary(ctx context.Context, eventID string) (models.RatingSummary, error)
}

type MongoReviews struct {
	col *mongo.Collection
}

func NewMongoReviews(col *mongo.Collection) *MongoReviews {
	if col == nil {
		col = db.ReviewsCollection
	}
	return &MongoReviews{col: col}
}

func (s *MongoReviews) Add(ctx context.Context, rv models.Review) error {
	_, err := s.col.InsertOne(ctx, rv)
	if db.IsDuplicateKey(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *MongoReviews) List(ctx context.Context, eventID string, page utils.Page) ([]models.Review, int64, error) {
	filter := bson.M{"eventId": eventID}
	total, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []models.Review{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *MongoReviews) Summary(ctx context.Context, eventID string) (models.RatingSummary, error) {
	cur, err := s.col.Aggregate(ctx, summaryPipeline(eventID))
	if err != nil {
		return models.RatingSummary{}, err
	}
	defer cur.Close(ctx)
	var rows []models.RatingSummary
	if err := cur.All(ctx, &rows); err != nil {
		return models.RatingSummary{}, err
	}
	if len(rows) == 0 {
		return models.RatingSummary{}, nil
	}
	return models.RatingSummary{Average: roundRating(rows[0].Average), Count: rows[0].Count}, nil
}

func summaryPipeline(eventID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"eventId": eventID}}},
		{{Key: "$group", Value: bson.M{
			"_id":     nil,
			"average": bson.M{"$avg": "$rating"},
			"count":   bson.M{"$sum": 1},
		}}},
	}
}

// roundRating keeps one decimal place, half away from zero.
func roundRating(avg float64) float64 {
	f, _ := decimal.NewFromFloat(avg).Round(1).Float64()
	return f
}

type reviewInput struct {
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// POST /events/:id/review
func (h *Handlers) Review(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in reviewInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, ok := h.visible(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if ev.Status == models.EventDraft {
		utils.RespondWithError(w, http.StatusBadRequest, "event is not published")
		return
	}
	p := utils.GetPrincipal(r)
	rv := models.Review{
		ID:        utils.NewID("rev"),
		EventID:   ev.ID,
		UserID:    p.ID,
		Rating:    in.Rating,
		Comment:   strings.TrimSpace(in.Comment),
		CreatedAt: h.now(),
	}
	if err := h.reviews.Add(r.Context(), rv); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			utils.RespondWithError(w, http.StatusConflict, "you have already reviewed this event")
			return
		}
		h.fail(w, err, "failed to save review")
		return
	}
	log.WithFields(log.Fields{"event": ev.ID, "user": p.ID, "rating": rv.Rating}).Info("review added")
	utils.RespondWithJSON(w, http.StatusCreated, rv)
}

// GET /events/:id/reviews
func (h *Handlers) Reviews(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.visible(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.reviews.List(r.Context(), ev.ID, page)
	if err != nil {
		h.fail(w, err, "failed to load reviews")
		return
	}
	sum, err := h.reviews.Summary(r.Context(), ev.ID)
	if err != nil {
		h.fail(w, err, "failed to load rating")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"reviews":    list,
		"pagination": utils.Pagination(page, total),
		"rating":     sum,
	})
}

// visible loads an event the caller may see. Drafts stay hidden from
// everyone but their organizer.
func (h *Handlers) visible(w http.ResponseWriter, r *http.Request, id string) (models.Event, bool) {
	ev, ok := h.load(w, r, id)
	if !ok {
		return ev, false
	}
	if ev.Status == models.EventDraft && !canManage(utils.GetPrincipal(r), ev) {
		utils.RespondWithError(w, http.StatusNotFound, "event not found")
		return ev, false
	}
	return ev, true
}
