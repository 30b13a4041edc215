package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"eventhub/booking"
	"eventhub/ledger"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Inventory is the part of the ledger the event handlers drive.
type Inventory interface {
	Availability(ctx context.Context, eventID string) ([]models.Tier, error)
	Resize(ctx context.Context, eventID, tier string, quantity int) error
	PruneEvent(ctx context.Context, eventID string) (int64, error)
}

// Holders lists the paid tickets of an event.
type Holders interface {
	ByEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
}

// Canceller cancels and refunds a single ticket.
type Canceller interface {
	Cancel(ctx context.Context, p models.Principal, id, reason string) (models.Ticket, error)
}

type Handlers struct {
	repo      Repository
	inv       Inventory
	holders   Holders
	tickets   Canceller
	notes     booking.Notifier
	hub       *Hub
	waitlist  WaitlistStore
	reviews   ReviewStore
	wishlist  WishlistStore
	uploadDir string
	now       func() time.Time
	async     func(func())
}

type Deps struct {
	Repo      Repository
	Inventory Inventory
	Holders   Holders
	Tickets   Canceller
	Notifier  booking.Notifier
	Hub       *Hub
	Waitlist  WaitlistStore
	Reviews   ReviewStore
	Wishlist  WishlistStore
	UploadDir string
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		repo:      d.Repo,
		inv:       d.Inventory,
		holders:   d.Holders,
		tickets:   d.Tickets,
		notes:     d.Notifier,
		hub:       d.Hub,
		waitlist:  d.Waitlist,
		reviews:   d.Reviews,
		wishlist:  d.Wishlist,
		uploadDir: d.UploadDir,
		now:       time.Now,
		async:     func(f func()) { go f() },
	}
}

type tierInput struct {
	Name        string       `json:"name" validate:"required,max=60"`
	Description string       `json:"description" validate:"max=500"`
	Price       models.Money `json:"price"`
	Quantity    int          `json:"quantity" validate:"gte=1"`
}

type eventInput struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Category    string          `json:"category" validate:"required,max=60"`
	Venue       models.Venue    `json:"venue"`
	Schedule    models.Schedule `json:"schedule"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Tiers       []tierInput     `json:"tiers" validate:"required,min=1,dive"`
	Tags        []string        `json:"tags" validate:"max=20"`
}

// POST /events
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	if !p.HasRole(models.RoleOrganizer) && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "only organizers can create events")
		return
	}
	var in eventInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := checkTiers(in.Tiers, in.Venue.Capacity); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now()
	if !in.Schedule.Start.After(now) {
		utils.RespondWithError(w, http.StatusBadRequest, "schedule.start must be in the future")
		return
	}

	currency := strings.ToLower(in.Currency)
	if currency == "" {
		currency = "usd"
	}
	ev := models.Event{
		ID:          utils.NewID("evt"),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		OrganizerID: p.ID,
		Venue:       in.Venue,
		Schedule:    models.Schedule{Start: in.Schedule.Start.UTC(), End: in.Schedule.End.UTC(), Timezone: in.Schedule.Timezone},
		Pricing:     models.Pricing{Currency: currency},
		Status:      models.EventDraft,
		Tags:        utils.SplitTags(strings.Join(in.Tags, ",")),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, t := range in.Tiers {
		ev.Pricing.Tiers = append(ev.Pricing.Tiers, newTier(t))
	}
	if err := h.repo.Insert(r.Context(), &ev); err != nil {
		log.WithError(err).Error("insert event")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to save event")
		return
	}
	log.WithFields(log.Fields{"event": ev.ID, "organizer": p.ID}).Info("event created")
	utils.RespondWithJSON(w, http.StatusCreated, ev)
}

func newTier(t tierInput) models.Tier {
	return models.Tier{
		Name:        strings.TrimSpace(t.Name),
		Description: t.Description,
		Price:       t.Price,
		Quantity:    t.Quantity,
		Available:   t.Quantity,
	}
}

// checkTiers rejects duplicate names, negative prices and totals above the
// venue capacity.
func checkTiers(tiers []tierInput, capacity int) error {
	seen := map[string]bool{}
	total := 0
	for _, t := range tiers {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if seen[name] {
			return fmt.Errorf("tier %q listed twice", t.Name)
		}
		seen[name] = true
		if t.Price.IsNegative() {
			return fmt.Errorf("tier %q has a negative price", t.Name)
		}
		total += t.Quantity
	}
	if capacity > 0 && total > capacity {
		return fmt.Errorf("tiers offer %d seats but the venue holds %d", total, capacity)
	}
	return nil
}

// GET /events
func (h *Handlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q, err := ParseQuery(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.repo.List(r.Context(), q, page)
	if err != nil {
		log.WithError(err).Error("list events")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"events": list, "pagination": utils.Pagination(page, total)})
}

// GET /events/organizer/mine
func (h *Handlers) Mine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.repo.ByOrganizer(r.Context(), p.ID, page)
	if err != nil {
		log.WithError(err).Error("list organizer events")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"events": list, "pagination": utils.Pagination(page, total)})
}

// GET /events/:id
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.visible(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if tiers, err := h.inv.Availability(r.Context(), ev.ID); err == nil {
		ev.Pricing.Tiers = tiers
	} else {
		log.WithError(err).WithField("event", ev.ID).Warn("live availability unavailable")
	}
	utils.RespondWithJSON(w, http.StatusOK, ev)
}

type eventPatch struct {
	Title       *string          `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=5000"`
	Category    *string          `json:"category" validate:"omitempty,max=60"`
	Venue       *models.Venue    `json:"venue"`
	Schedule    *models.Schedule `json:"schedule"`
	Tags        []string         `json:"tags" validate:"max=20"`
	Tiers       []tierInput      `json:"tiers" validate:"dive"`
}

// PUT /events/:id
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.managed(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	if ev.Status == models.EventCancelled || ev.Status == models.EventCompleted {
		utils.RespondWithError(w, http.StatusBadRequest, "event can no longer be edited")
		return
	}
	var in eventPatch
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Schedule != nil && !in.Schedule.Start.After(h.now()) {
		utils.RespondWithError(w, http.StatusBadRequest, "schedule.start must be in the future")
		return
	}
	capacity := ev.Venue.Capacity
	if in.Venue != nil {
		capacity = in.Venue.Capacity
	}
	if err := checkTiers(mergeTiers(ev.Pricing.Tiers, in.Tiers), capacity); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	for _, t := range in.Tiers {
		name := strings.TrimSpace(t.Name)
		cur, exists := ev.Tier(name)
		if !exists {
			if err := h.repo.AddTier(ctx, ev.ID, newTier(t)); err != nil && !errors.Is(err, models.ErrDuplicate) {
				h.fail(w, err, "failed to add tier")
				return
			}
			continue
		}
		if t.Quantity != cur.Quantity {
			if err := h.inv.Resize(ctx, ev.ID, name, t.Quantity); err != nil {
				if errors.Is(err, ledger.ErrBelowAllocated) {
					utils.RespondWithError(w, http.StatusConflict,
						fmt.Sprintf("tier %q has %d seats sold or held", name, cur.Sold+cur.Held))
					return
				}
				h.fail(w, err, "failed to resize tier")
				return
			}
		}
		if !t.Price.Equal(cur.Price.Decimal) || t.Description != cur.Description {
			if err := h.repo.SetTierInfo(ctx, ev.ID, name, t.Price, t.Description); err != nil {
				h.fail(w, err, "failed to update tier")
				return
			}
		}
	}

	c := Changes{Title: in.Title, Description: in.Description, Category: in.Category, Venue: in.Venue, Schedule: in.Schedule}
	if in.Tags != nil {
		c.Tags = utils.SplitTags(strings.Join(in.Tags, ","))
	}
	if err := h.repo.Update(ctx, ev.ID, c); err != nil {
		h.fail(w, err, "failed to update event")
		return
	}
	if in.Schedule != nil && !in.Schedule.Start.Equal(ev.Schedule.Start) && ev.Status != models.EventDraft {
		h.async(func() { h.tellHolders(context.Background(), ev, "event_rescheduled") })
	}
	updated, ok := h.load(w, r, ev.ID)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, updated)
}

// mergeTiers is the tier list an update would leave behind.
func mergeTiers(existing []models.Tier, changes []tierInput) []tierInput {
	byName := map[string]int{}
	out := make([]tierInput, 0, len(existing)+len(changes))
	for _, t := range existing {
		byName[t.Name] = len(out)
		out = append(out, tierInput{Name: t.Name, Description: t.Description, Price: t.Price, Quantity: t.Quantity})
	}
	for _, t := range changes {
		if i, ok := byName[strings.TrimSpace(t.Name)]; ok {
			out[i] = t
			continue
		}
		out = append(out, t)
	}
	return out
}

// DELETE /events/:id
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ev, ok := h.managed(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	deleted, err := h.repo.Delete(r.Context(), ev.ID)
	if err != nil {
		h.fail(w, err, "failed to delete event")
		return
	}
	if !deleted {
		utils.RespondWithError(w, http.StatusConflict, "tickets have been sold; cancel the event instead")
		return
	}
	log.WithField("event", ev.ID).Info("event deleted")
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "event deleted"})
}

func canManage(p models.Principal, ev models.Event) bool {
	return !p.Anonymous() && (p.ID == ev.OrganizerID || p.IsAdmin())
}

func (h *Handlers) load(w http.ResponseWriter, r *http.Request, id string) (models.Event, bool) {
	ev, err := h.repo.Event(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to load event")
		return ev, false
	}
	return ev, true
}

// managed loads an event the caller may change.
func (h *Handlers) managed(w http.ResponseWriter, r *http.Request, id string) (models.Event, bool) {
	ev, ok := h.load(w, r, id)
	if !ok {
		return ev, false
	}
	if !canManage(utils.GetPrincipal(r), ev) {
		utils.RespondWithError(w, http.StatusForbidden, "not the organizer of this event")
		return ev, false
	}
	return ev, true
}

func (h *Handlers) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, ledger.ErrInvalidQuantity):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		utils.RespondWithError(w, http.StatusConflict, "tickets are selling right now, try again")
	default:
		log.WithError(err).Error(msg)
		utils.RespondWithError(w, http.StatusInternalServerError, msg)
	}
}
