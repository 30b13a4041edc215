package notifications

import (
	"net/http"

	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// GET /notifications
func (h *Handlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := utils.GetUserIDFromRequest(r)
	page := utils.ParsePage(r, 20, 100)
	unreadOnly := r.URL.Query().Get("unread") == "true"

	list, total, err := h.store.List(r.Context(), userID, unreadOnly, page)
	if err != nil {
		log.WithError(err).Error("list notifications")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	unread, err := h.store.Unread(r.Context(), userID)
	if err != nil {
		log.WithError(err).Warn("count unread notifications")
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"notifications": list,
		"unreadCount":   unread,
		"pagination":    utils.Pagination(page, total),
	})
}

// PUT /notifications/:id/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ok, err := h.store.MarkRead(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	h.done(w, ok, err, "notification marked as read")
}

// PUT /notifications/read-all
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, err := h.store.MarkAllRead(r.Context(), utils.GetUserIDFromRequest(r))
	if err != nil {
		log.WithError(err).Error("mark all notifications read")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "all notifications marked as read", "updated": n})
}

// DELETE /notifications/:id
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ok, err := h.store.Delete(r.Context(), utils.GetUserIDFromRequest(r), ps.ByName("id"))
	h.done(w, ok, err, "notification deleted")
}

func (h *Handlers) done(w http.ResponseWriter, ok bool, err error, msg string) {
	if err != nil {
		log.WithError(err).Error("update notification")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "notification not found")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": msg})
}
