package tickets

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"eventhub/booking"
	"eventhub/ledger"
	"eventhub/models"
	"eventhub/payments"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Lister is the per-holder query the ticket list needs.
type Lister interface {
	ByUser(ctx context.Context, userID string, status models.TicketStatus, page utils.Page) ([]models.Ticket, int64, error)
}

type Handlers struct {
	m      *booking.Manager
	list   Lister
	events booking.EventReader
}

func NewHandlers(m *booking.Manager, list Lister, events booking.EventReader) *Handlers {
	return &Handlers{m: m, list: list, events: events}
}

// POST /tickets/book
func (h *Handlers) Book(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req booking.BookRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	t, err := h.m.Book(r.Context(), utils.GetPrincipal(r), req)
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"status": "confirmed", "ticket": t})
	case errors.Is(err, booking.ErrCommitPending):
		utils.RespondWithJSON(w, http.StatusAccepted, utils.M{"status": "processing", "ticket": t})
	default:
		writeError(w, err, "booking failed")
	}
}

// GET /tickets/my-tickets
func (h *Handlers) MyTickets(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	status := models.TicketStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.TicketActive, models.TicketUsed, models.TicketCancelled, models.TicketTransferred:
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "unknown ticket status "+string(status))
		return
	}
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.list.ByUser(r.Context(), p.ID, status, page)
	if err != nil {
		writeError(w, err, "failed to load tickets")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"tickets":    list,
		"pagination": utils.Pagination(page, total),
	})
}

// GET /tickets/:id
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, err := h.m.Ticket(r.Context(), utils.GetPrincipal(r), ps.ByName("id"))
	if err != nil {
		writeError(w, err, "failed to load ticket")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, t)
}

// PUT /tickets/:id/cancel
func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Reason string `json:"reason" validate:"max=500"`
	}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &body); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	t, err := h.m.Cancel(r.Context(), utils.GetPrincipal(r), ps.ByName("id"), body.Reason)
	if err != nil {
		writeError(w, err, "cancellation failed")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "ticket cancelled", "ticket": t})
}

type transferRequest struct {
	ToEmail string `json:"toEmail" validate:"required,email"`
	Reason  string `json:"reason" validate:"max=500"`
}

// POST /tickets/:id/transfer
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req transferRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.m.Transfer(r.Context(), utils.GetPrincipal(r), ps.ByName("id"), req.ToEmail, req.Reason)
	if err != nil {
		writeError(w, err, "transfer failed")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "ticket transferred", "ticket": t})
}

type checkInRequest struct {
	Location string `json:"location" validate:"max=200"`
	QR       string `json:"qr"`
}

// POST /tickets/:id/checkin
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req checkInRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	t, err := h.m.CheckIn(r.Context(), utils.GetPrincipal(r), ps.ByName("id"), req.Location)
	h.checkedIn(w, t, err)
}

// POST /tickets/checkin/scan
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req checkInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims, err := VerifyQR(req.QR)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.m.CheckInByCode(r.Context(), utils.GetPrincipal(r), claims.Code, req.Location)
	if err == nil && (t.ID != claims.TicketID || t.EventID != claims.EventID) {
		log.WithFields(log.Fields{"ticket": t.ID, "claimed": claims.TicketID}).Warn("qr payload does not match ticket")
	}
	h.checkedIn(w, t, err)
}

func (h *Handlers) checkedIn(w http.ResponseWriter, t models.Ticket, err error) {
	if errors.Is(err, booking.ErrAlreadyCheckedIn) {
		utils.RespondWithJSON(w, http.StatusConflict, utils.M{"error": err.Error(), "checkIn": t.CheckIn})
		return
	}
	if err != nil {
		writeError(w, err, "check-in failed")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "checked in", "ticket": t})
}

// GET /tickets/:id/download
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, ok := h.printable(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	ev, err := h.events.Event(r.Context(), t.EventID)
	if err != nil {
		writeError(w, err, "failed to load event")
		return
	}
	pdf, err := RenderPDF(t, ev)
	if err != nil {
		writeError(w, err, "failed to render ticket")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="ticket-`+t.Code+`.pdf"`)
	w.Write(pdf)
}

// GET /tickets/:id/qr
func (h *Handlers) QR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, ok := h.printable(w, r, ps.ByName("id"))
	if !ok {
		return
	}
	png, err := QRPNG(t, 256)
	if err != nil {
		writeError(w, err, "failed to render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(png)
}

// printable loads a ticket its caller may print; only the holder and
// admins get the entry credential.
func (h *Handlers) printable(w http.ResponseWriter, r *http.Request, id string) (models.Ticket, bool) {
	p := utils.GetPrincipal(r)
	t, err := h.m.Ticket(r.Context(), p, id)
	if err != nil {
		writeError(w, err, "failed to load ticket")
		return t, false
	}
	if t.UserID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "only the ticket holder can download it")
		return t, false
	}
	if t.BookingState != models.StateCommitted || t.Status == models.TicketCancelled {
		utils.RespondWithError(w, http.StatusBadRequest, "ticket is not valid for entry")
		return t, false
	}
	return t, true
}

func writeError(w http.ResponseWriter, err error, msg string) {
	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondWithError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, ledger.ErrInsufficientInventory):
		utils.RespondWithError(w, http.StatusBadRequest, "not enough tickets available")
	case errors.Is(err, payments.ErrDeclined):
		utils.RespondWithError(w, http.StatusBadRequest, "payment failed: "+err.Error())
	case errors.Is(err, payments.ErrGateway):
		utils.RespondWithError(w, http.StatusBadGateway, "payment provider unavailable, no charge was made")
	case errors.Is(err, booking.ErrNotAuthorized):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrAlreadyCheckedIn),
		errors.Is(err, booking.ErrBookingInProgress),
		errors.Is(err, booking.ErrConflict):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	default:
		log.WithError(err).Error(msg)
		utils.RespondWithError(w, http.StatusInternalServerError, msg)
	}
}
