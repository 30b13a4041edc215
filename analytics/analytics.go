package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	dashboardTTL = time.Minute
	// cap on events folded into one dashboard
	maxDashboardEvents = 500
)

type Events interface {
	Event(ctx context.Context, id string) (models.Event, error)
	ByOrganizer(ctx context.Context, organizerID string, page utils.Page) ([]models.Event, int64, error)
}

type Inventory interface {
	Availability(ctx context.Context, eventID string) ([]models.Tier, error)
}

type Tickets interface {
	ByEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
}

// Cache stores rendered dashboards. Get returns nil on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Handlers struct {
	events  Events
	inv     Inventory
	tickets Tickets
	cache   Cache
	now     func() time.Time
}

// NewHandlers builds the analytics endpoints. cache may be nil.
func NewHandlers(events Events, inv Inventory, tickets Tickets, cache Cache) *Handlers {
	return &Handlers{events: events, inv: inv, tickets: tickets, cache: cache, now: time.Now}
}

// GET /analytics/event/:eventId
func (h *Handlers) Event(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p := utils.GetPrincipal(r)
	ev, err := h.events.Event(r.Context(), ps.ByName("eventId"))
	if errors.Is(err, models.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("load event for analytics")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	if ev.OrganizerID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "not the organizer of this event")
		return
	}
	rep, err := h.report(r.Context(), ev)
	if err != nil {
		log.WithError(err).WithField("event", ev.ID).Error("event analytics")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to compute analytics")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rep)
}

// GET /analytics/dashboard
//
// Admins may look at another organizer with ?organizerId=.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	org := p.ID
	if q := r.URL.Query().Get("organizerId"); q != "" && q != p.ID {
		if !p.IsAdmin() {
			utils.RespondWithError(w, http.StatusForbidden, "admins only")
			return
		}
		org = q
	}

	ctx := r.Context()
	if h.cache != nil {
		if b, err := h.cache.Get(ctx, org); err != nil {
			log.WithError(err).Warn("dashboard cache read")
		} else if b != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(b)
			return
		}
	}

	dash, err := h.dashboard(ctx, org)
	if err != nil {
		log.WithError(err).WithField("organizer", org).Error("dashboard analytics")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to compute dashboard")
		return
	}
	if h.cache != nil {
		if b, err := json.Marshal(dash); err == nil {
			if err := h.cache.Set(ctx, org, b, dashboardTTL); err != nil {
				log.WithError(err).Warn("dashboard cache write")
			}
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, dash)
}

func (h *Handlers) report(ctx context.Context, ev models.Event) (EventReport, error) {
	tiers, err := h.inv.Availability(ctx, ev.ID)
	if err != nil {
		return EventReport{}, err
	}
	list, err := h.tickets.ByEvent(ctx, ev.ID)
	if err != nil {
		return EventReport{}, err
	}
	return Rollup(ev, tiers, list), nil
}

func (h *Handlers) dashboard(ctx context.Context, org string) (Dashboard, error) {
	var evs []models.Event
	for page := 1; len(evs) < maxDashboardEvents; page++ {
		batch, total, err := h.events.ByOrganizer(ctx, org, utils.Page{Page: page, Limit: 100})
		if err != nil {
			return Dashboard{}, err
		}
		evs = append(evs, batch...)
		if len(batch) == 0 || int64(len(evs)) >= total {
			break
		}
	}

	reports := make([]EventReport, len(evs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ev := range evs {
		i, ev := i, ev
		g.Go(func() error {
			rep, err := h.report(gctx, ev)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return Combine(reports, h.now()), nil
}
