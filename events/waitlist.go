package events

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"eventhub/booking"
	"eventhub/db"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WaitlistStore keeps who is waiting for which tier.
type WaitlistStore interface {
	Join(ctx context.Context, e models.WaitlistEntry) error
	Leave(ctx context.Context, eventID, tier, userID string) (bool, error)
	// Waiting returns entries not yet notified, oldest first.
	Waiting(ctx context.Context, eventID, tier string, limit int) ([]models.WaitlistEntry, error)
	// MarkNotified claims an entry. It reports false when someone else
	// already did.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
}

type MongoWaitlist struct {
	col *mongo.Collection
}

func NewMongoWaitlist(col *mongo.Collection) *MongoWaitlist {
	if col == nil {
		col = db.WaitlistCollection
	}
	return &MongoWaitlist{col: col}
}

func (s *MongoWaitlist) Join(ctx context.Context, e models.WaitlistEntry) error {
	_, err := s.col.InsertOne(ctx, e)
	if db.IsDuplicateKey(err) {
		return models.ErrDuplicate
	}
	return err
}

func (s *MongoWaitlist) Leave(ctx context.Context, eventID, tier, userID string) (bool, error) {
	res, err := s.col.DeleteOne(ctx, bson.M{"eventId": eventID, "tier": tier, "userId": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (s *MongoWaitlist) Waiting(ctx context.Context, eventID, tier string, limit int) ([]models.WaitlistEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "joinedAt", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, waitingFilter(eventID, tier), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []models.WaitlistEntry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoWaitlist) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "notifiedAt": nil},
		bson.M{"$set": bson.M{"notifiedAt": at}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// a null match also covers documents written without the field
func waitingFilter(eventID, tier string) bson.M {
	return bson.M{"eventId": eventID, "tier": tier, "notifiedAt": nil}
}

type eventLookup interface {
	Event(ctx context.Context, id string) (models.Event, error)
}

// Waitlist tells waiting users when seats of their tier go back on sale.
// Each freed seat offers one waiting user, in the order they joined, and
// nobody is told twice.
type Waitlist struct {
	store  WaitlistStore
	events eventLookup
	notes  booking.Notifier
	now    func() time.Time
	async  func(func())
}

func NewWaitlist(store WaitlistStore, events eventLookup, notes booking.Notifier) *Waitlist {
	return &Waitlist{
		store:  store,
		events: events,
		notes:  notes,
		now:    time.Now,
		async:  func(f func()) { go f() },
	}
}

// SeatsFreed satisfies booking.Waitlist.
func (wl *Waitlist) SeatsFreed(_ context.Context, eventID, tier string, qty int) {
	if qty <= 0 {
		return
	}
	wl.async(func() { wl.offer(context.Background(), eventID, tier, qty) })
}

func (wl *Waitlist) offer(ctx context.Context, eventID, tier string, qty int) (told int) {
	lf := log.Fields{"event": eventID, "tier": tier}
	ev, err := wl.events.Event(ctx, eventID)
	if err != nil {
		log.WithError(err).WithFields(lf).Warn("waitlist not offered")
		return 0
	}
	if ev.Status != models.EventPublished {
		return 0
	}
	waiting, err := wl.store.Waiting(ctx, eventID, tier, qty)
	if err != nil {
		log.WithError(err).WithFields(lf).Warn("waitlist not loaded")
		return 0
	}
	for _, e := range waiting {
		claimed, err := wl.store.MarkNotified(ctx, e.ID, wl.now())
		if err != nil {
			log.WithError(err).WithField("entry", e.ID).Warn("waitlist entry not claimed")
			continue
		}
		if !claimed {
			continue
		}
		told++
		wl.notes.Dispatch(e.UserID, "waitlist_available", map[string]any{
			"eventId": ev.ID, "title": ev.Title, "ticketType": tier,
		})
	}
	if told > 0 {
		log.WithFields(lf).WithField("users", told).Info("waitlist offered seats")
	}
	return told
}

type waitlistInput struct {
	TicketType string `json:"ticketType" validate:"required,max=60"`
}

// POST /events/:id/waitlist
func (h *Handlers) JoinWaitlist(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in waitlistInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, ok := h.load(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if ev.Status != models.EventPublished && ev.Status != models.EventPostponed {
		utils.RespondWithError(w, http.StatusBadRequest, "event is not on sale")
		return
	}
	tier := strings.TrimSpace(in.TicketType)
	if _, ok := ev.Tier(tier); !ok {
		utils.RespondWithError(w, http.StatusBadRequest, "unknown ticket type "+tier)
		return
	}
	p := utils.GetPrincipal(r)
	entry := models.WaitlistEntry{
		ID:       utils.NewID("wl"),
		EventID:  ev.ID,
		Tier:     tier,
		UserID:   p.ID,
		JoinedAt: h.now(),
	}
	if err := h.waitlist.Join(r.Context(), entry); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			utils.RespondWithError(w, http.StatusConflict, "already on the waitlist for "+tier)
			return
		}
		h.fail(w, err, "failed to join waitlist")
		return
	}
	log.WithFields(log.Fields{"event": ev.ID, "tier": tier, "user": p.ID}).Info("joined waitlist")
	utils.RespondWithJSON(w, http.StatusCreated, entry)
}

// DELETE /events/:id/waitlist?ticketType=
func (h *Handlers) LeaveWaitlist(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tier := strings.TrimSpace(r.URL.Query().Get("ticketType"))
	if tier == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "ticketType is required")
		return
	}
	left, err := h.waitlist.Leave(r.Context(), ps.ByName("id"), tier, utils.GetPrincipal(r).ID)
	if err != nil {
		h.fail(w, err, "failed to leave waitlist")
		return
	}
	if !left {
		utils.RespondWithError(w, http.StatusNotFound, "not on the waitlist")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "left waitlist"})
}
