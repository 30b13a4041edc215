package events

import (
	"context"
	"net/http"
	"slices"

	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// transitions maps a target status to the statuses it may be reached from.
var transitions = map[models.EventStatus][]models.EventStatus{
	models.EventPublished: {models.EventDraft, models.EventPostponed},
	models.EventCancelled: {models.EventDraft, models.EventPublished, models.EventPostponed},
	models.EventPostponed: {models.EventPublished},
	models.EventCompleted: {models.EventPublished, models.EventPostponed},
}

func CanTransition(from, to models.EventStatus) bool {
	return slices.Contains(transitions[to], from)
}

// system cancels tickets on behalf of an organizer who called off the event.
var system = models.Principal{ID: "system", Roles: []string{models.RoleAdmin}}

func (h *Handlers) Publish(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.transition(w, r, ps.ByName("id"), models.EventPublished, func(ev models.Event) string {
		if len(ev.Pricing.Tiers) == 0 {
			return "add at least one ticket tier before publishing"
		}
		if ev.Started(h.now()) {
			return "event has already started"
		}
		return ""
	}, func(ev models.Event) {
		if ev.Status == models.EventPostponed {
			h.async(func() { h.tellHolders(context.Background(), ev, "event_resumed") })
		}
	})
}

func (h *Handlers) Postpone(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.transition(w, r, ps.ByName("id"), models.EventPostponed, nil, func(ev models.Event) {
		h.async(func() { h.tellHolders(context.Background(), ev, "event_postponed") })
	})
}

func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.transition(w, r, ps.ByName("id"), models.EventCompleted, func(ev models.Event) string {
		if !ev.Started(h.now()) {
			return "event has not started yet"
		}
		return ""
	}, func(ev models.Event) {
		h.async(func() {
			n, err := h.inv.PruneEvent(context.Background(), ev.ID)
			if err != nil {
				log.WithError(err).WithField("event", ev.ID).Warn("settled holds not pruned")
				return
			}
			log.WithFields(log.Fields{"event": ev.ID, "holds": n}).Info("event completed")
		})
	})
}

// Cancel calls the event off. Every paid ticket is cancelled and refunded
// in the background and its holder told.
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.transition(w, r, ps.ByName("id"), models.EventCancelled, nil, func(ev models.Event) {
		h.async(func() { h.cancelTickets(context.Background(), ev) })
	})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, id string, to models.EventStatus,
	check func(models.Event) string, after func(models.Event)) {
	ev, ok := h.managed(w, r, id)
	if !ok {
		return
	}
	if !CanTransition(ev.Status, to) {
		utils.RespondWithError(w, http.StatusBadRequest, "cannot move a "+string(ev.Status)+" event to "+string(to))
		return
	}
	if check != nil {
		if msg := check(ev); msg != "" {
			utils.RespondWithError(w, http.StatusBadRequest, msg)
			return
		}
	}
	ok, err := h.repo.SetStatus(r.Context(), ev.ID, transitions[to], to)
	if err != nil {
		h.fail(w, err, "failed to update event status")
		return
	}
	if !ok {
		utils.RespondWithError(w, http.StatusConflict, "event status changed, reload and retry")
		return
	}
	log.WithFields(log.Fields{"event": ev.ID, "from": ev.Status, "to": to}).Info("event status changed")
	if after != nil {
		after(ev)
	}
	ev.Status = to
	utils.RespondWithJSON(w, http.StatusOK, ev)
}

func (h *Handlers) cancelTickets(ctx context.Context, ev models.Event) (cancelled int) {
	list, err := h.holders.ByEvent(ctx, ev.ID)
	if err != nil {
		log.WithError(err).WithField("event", ev.ID).Error("load tickets of cancelled event")
		return 0
	}
	for _, t := range list {
		if t.BookingState != models.StateCommitted || t.Status == models.TicketCancelled || t.Status == models.TicketUsed {
			continue
		}
		if _, err := h.tickets.Cancel(ctx, system, t.ID, "event cancelled"); err != nil {
			// the reconciler retries refunds; a failed flip is logged for support
			log.WithError(err).WithField("ticket", t.ID).Warn("ticket not cancelled with its event")
			continue
		}
		cancelled++
		h.notes.Dispatch(t.UserID, "event_cancelled", map[string]any{
			"eventId": ev.ID, "title": ev.Title, "ticketId": t.ID,
		})
	}
	log.WithFields(log.Fields{"event": ev.ID, "tickets": cancelled}).Info("event cancelled")
	return cancelled
}

// tellHolders notifies every holder with a live ticket once.
func (h *Handlers) tellHolders(ctx context.Context, ev models.Event, kind string) {
	list, err := h.holders.ByEvent(ctx, ev.ID)
	if err != nil {
		log.WithError(err).WithField("event", ev.ID).Warn("holders not notified")
		return
	}
	seen := map[string]bool{}
	for _, t := range list {
		if t.BookingState != models.StateCommitted || t.Status == models.TicketCancelled || seen[t.UserID] {
			continue
		}
		seen[t.UserID] = true
		h.notes.Dispatch(t.UserID, kind, map[string]any{
			"eventId": ev.ID, "title": ev.Title, "start": ev.Schedule.Start,
		})
	}
}
