package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Reader is the read side of the payment store used by the HTTP handlers.
type Reader interface {
	Get(ctx context.Context, id string) (models.Payment, error)
	History(ctx context.Context, userID string, f HistoryFilter, page utils.Page) ([]models.Payment, int64, error)
}

type Handlers struct {
	store Reader
}

func NewHandlers(store Reader) *Handlers {
	return &Handlers{store: store}
}

// GET /payments/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	f, err := parseHistoryFilter(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := utils.ParsePage(r, 20, 100)

	list, total, err := h.store.History(r.Context(), p.ID, f, page)
	if err != nil {
		log.WithError(err).WithField("user", p.ID).Error("payment history")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load payments")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"payments":   list,
		"pagination": utils.Pagination(page, total),
	})
}

// GET /payments/:id
func (h *Handlers) Detail(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p := utils.GetPrincipal(r)
	pay, err := h.store.Get(r.Context(), ps.ByName("id"))
	if errors.Is(err, models.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("load payment")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load payment")
		return
	}
	if pay.UserID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "not your payment")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, pay)
}

func parseHistoryFilter(r *http.Request) (HistoryFilter, error) {
	q := r.URL.Query()
	f := HistoryFilter{Status: q.Get("status"), EventID: q.Get("eventId")}
	if f.Status != "" {
		switch models.PaymentStatus(f.Status) {
		case models.PaymentPending, models.PaymentProcessing, models.PaymentCompleted,
			models.PaymentFailed, models.PaymentCancelled, models.PaymentRefunded:
		default:
			return f, errors.New("unknown payment status " + f.Status)
		}
	}
	var err error
	if v := q.Get("startDate"); v != "" {
		if f.From, err = parseDate(v); err != nil {
			return f, errors.New("startDate must be YYYY-MM-DD or RFC3339")
		}
	}
	if v := q.Get("endDate"); v != "" {
		if f.To, err = parseDate(v); err != nil {
			return f, errors.New("endDate must be YYYY-MM-DD or RFC3339")
		}
		if len(v) == len("2006-01-02") {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
