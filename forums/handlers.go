package forums

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"eventhub/booking"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// Holders answers whether a user holds a live ticket for an event.
type Holders interface {
	HoldsTicket(ctx context.Context, userID, eventID string) (bool, error)
}

type Handlers struct {
	store   Store
	holders Holders
	events  booking.EventReader
	now     func() time.Time
}

func NewHandlers(store Store, holders Holders, events booking.EventReader) *Handlers {
	return &Handlers{store: store, holders: holders, events: events, now: time.Now}
}

type forumInput struct {
	EventID     string `json:"eventId" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"max=50"`
	Visibility  string `json:"visibility" validate:"omitempty,oneof=public ticket-holders"`
}

type forumChanges struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Category    *string `json:"category" validate:"omitempty,max=50"`
}

type contentInput struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type reportInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// GET /forums
func (h *Handlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	h.list(w, r, Filter{
		EventID:  q.Get("event"),
		Category: q.Get("category"),
		Search:   strings.TrimSpace(q.Get("search")),
	})
}

// GET /forums/event/:eventId
func (h *Handlers) ByEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.list(w, r, Filter{EventID: ps.ByName("eventId")})
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, f Filter) {
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.store.List(r.Context(), f, page)
	if err != nil {
		log.WithError(err).Error("list forums")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load forums")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"forums":     list,
		"pagination": utils.Pagination(page, total),
	})
}

// GET /forums/:id
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, f)
}

// POST /forums
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.GetPrincipal(r)
	var in forumInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "name must not be blank")
		return
	}
	if _, err := h.events.Event(r.Context(), in.EventID); err != nil {
		h.fail(w, err, "event not found", "failed to load event")
		return
	}
	if in.Visibility == "" {
		in.Visibility = models.ForumPublic
	}

	now := h.now()
	f := models.Forum{
		ID:          utils.NewID("frm"),
		EventID:     in.EventID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.ToLower(strings.TrimSpace(in.Category)),
		Visibility:  in.Visibility,
		CreatorID:   p.ID,
		Members:     []string{p.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.Insert(r.Context(), &f); err != nil {
		h.fail(w, err, "", "failed to create forum")
		return
	}
	log.WithFields(log.Fields{"forum": f.ID, "event": f.EventID}).Info("forum created")
	utils.RespondWithJSON(w, http.StatusCreated, f)
}

// PUT /forums/:id
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.owned(w, r, ps)
	if !ok {
		return
	}
	var in forumChanges
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "name must not be blank")
			return
		}
		in.Name = &name
	}
	ok, err := h.store.Update(r.Context(), f.ID, ForumUpdate{Name: in.Name, Description: in.Description, Category: in.Category})
	if err == nil && !ok {
		err = models.ErrNotFound
	}
	if err != nil {
		h.fail(w, err, "forum not found", "failed to update forum")
		return
	}
	h.Get(w, r, ps)
}

// DELETE /forums/:id
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.owned(w, r, ps)
	if !ok {
		return
	}
	ok, err := h.store.Delete(r.Context(), f.ID)
	if err == nil && !ok {
		err = models.ErrNotFound
	}
	if err != nil {
		h.fail(w, err, "forum not found", "failed to delete forum")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "forum deleted"})
}

// POST /forums/:id/join
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.participant(w, r, ps)
	if !ok {
		return
	}
	h.membership(w, r, f, ForumUpdate{Join: utils.GetUserIDFromRequest(r)}, "joined forum")
}

// POST /forums/:id/leave
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return
	}
	userID := utils.GetUserIDFromRequest(r)
	if f.CreatorID == userID {
		utils.RespondWithError(w, http.StatusBadRequest, "the creator cannot leave their forum")
		return
	}
	h.membership(w, r, f, ForumUpdate{Leave: userID}, "left forum")
}

func (h *Handlers) membership(w http.ResponseWriter, r *http.Request, f models.Forum, upd ForumUpdate, msg string) {
	ok, err := h.store.Update(r.Context(), f.ID, upd)
	if err == nil && !ok {
		err = models.ErrNotFound
	}
	if err != nil {
		h.fail(w, err, "forum not found", "failed to update membership")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": msg})
}

// GET /forums/:id/posts
func (h *Handlers) Posts(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return
	}
	page := utils.ParsePage(r, 20, 100)
	list, total, err := h.store.Posts(r.Context(), f.ID, page)
	if err != nil {
		log.WithError(err).WithField("forum", f.ID).Error("list posts")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to load posts")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"posts":      list,
		"pagination": utils.Pagination(page, total),
	})
}

// POST /forums/:id/posts
func (h *Handlers) CreatePost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.participant(w, r, ps)
	if !ok {
		return
	}
	content, ok := readContent(w, r)
	if !ok {
		return
	}
	now := h.now()
	post := models.Post{
		ID:        utils.NewID("pst"),
		ForumID:   f.ID,
		AuthorID:  utils.GetUserIDFromRequest(r),
		Content:   content,
		Likes:     []string{},
		Replies:   []models.Reply{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.InsertPost(r.Context(), &post); err != nil {
		h.fail(w, err, "", "failed to create post")
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, post)
}

// PUT /forums/:id/posts/:postId
func (h *Handlers) EditPost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	post, ok := h.post(w, r, ps)
	if !ok {
		return
	}
	if post.AuthorID != utils.GetUserIDFromRequest(r) {
		utils.RespondWithError(w, http.StatusForbidden, "only the author can edit a post")
		return
	}
	content, ok := readContent(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, post, PostUpdate{Content: &content})
}

// DELETE /forums/:id/posts/:postId
func (h *Handlers) DeletePost(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return
	}
	post, ok := h.post(w, r, ps)
	if !ok {
		return
	}
	p := utils.GetPrincipal(r)
	if post.AuthorID != p.ID && f.CreatorID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "not allowed to delete this post")
		return
	}
	ok, err := h.store.DeletePost(r.Context(), f.ID, post.ID)
	if err == nil && !ok {
		err = models.ErrNotFound
	}
	if err != nil {
		h.fail(w, err, "post not found", "failed to delete post")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "post deleted"})
}

// POST /forums/:id/posts/:postId/like
func (h *Handlers) Like(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if post, ok := h.post(w, r, ps); ok {
		h.mutate(w, r, post, PostUpdate{Like: utils.GetUserIDFromRequest(r)})
	}
}

// DELETE /forums/:id/posts/:postId/like
func (h *Handlers) Unlike(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if post, ok := h.post(w, r, ps); ok {
		h.mutate(w, r, post, PostUpdate{Unlike: utils.GetUserIDFromRequest(r)})
	}
}

// POST /forums/:id/posts/:postId/reply
func (h *Handlers) Reply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, ok := h.participant(w, r, ps); !ok {
		return
	}
	post, ok := h.post(w, r, ps)
	if !ok {
		return
	}
	content, ok := readContent(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, post, PostUpdate{Reply: &models.Reply{
		ID:        utils.NewID("rpl"),
		AuthorID:  utils.GetUserIDFromRequest(r),
		Content:   content,
		CreatedAt: h.now(),
	}})
}

// PUT /forums/:id/posts/:postId/replies/:replyId
func (h *Handlers) EditReply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	post, reply, ok := h.reply(w, r, ps)
	if !ok {
		return
	}
	if reply.AuthorID != utils.GetUserIDFromRequest(r) {
		utils.RespondWithError(w, http.StatusForbidden, "only the author can edit a reply")
		return
	}
	content, ok := readContent(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, post, PostUpdate{EditReply: &ReplyEdit{ID: reply.ID, Content: content}})
}

// DELETE /forums/:id/posts/:postId/replies/:replyId
//
// The reply's author, the forum creator and admins may remove a reply.
func (h *Handlers) DeleteReply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return
	}
	post, reply, ok := h.reply(w, r, ps)
	if !ok {
		return
	}
	p := utils.GetPrincipal(r)
	if reply.AuthorID != p.ID && f.CreatorID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "not allowed to delete this reply")
		return
	}
	h.mutate(w, r, post, PostUpdate{DropReply: reply.ID})
}

func (h *Handlers) reply(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Post, models.Reply, bool) {
	post, ok := h.post(w, r, ps)
	if !ok {
		return post, models.Reply{}, false
	}
	reply, ok := post.Reply(ps.ByName("replyId"))
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "reply not found")
		return post, reply, false
	}
	return post, reply, true
}

// POST /forums/:id/posts/:postId/pin
func (h *Handlers) Pin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.pin(w, r, ps, true)
}

// DELETE /forums/:id/posts/:postId/pin
func (h *Handlers) Unpin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.pin(w, r, ps, false)
}

func (h *Handlers) pin(w http.ResponseWriter, r *http.Request, ps httprouter.Params, on bool) {
	if _, ok := h.owned(w, r, ps); !ok {
		return
	}
	if post, ok := h.post(w, r, ps); ok {
		h.mutate(w, r, post, PostUpdate{Pinned: &on})
	}
}

// POST /forums/:id/posts/:postId/report
func (h *Handlers) Report(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	post, ok := h.post(w, r, ps)
	if !ok {
		return
	}
	var in reportInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep := models.Report{By: utils.GetUserIDFromRequest(r), Reason: strings.TrimSpace(in.Reason), At: h.now()}
	ok, err := h.store.UpdatePost(r.Context(), post.ForumID, post.ID, PostUpdate{Report: &rep})
	if err != nil {
		h.fail(w, err, "post not found", "failed to report post")
		return
	}
	if !ok {
		utils.RespondWithError(w, http.StatusConflict, "you already reported this post")
		return
	}
	log.WithFields(log.Fields{"post": post.ID, "by": rep.By}).Warn("post reported")
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "post reported"})
}

// mutate applies upd and responds with the fresh post.
func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, post models.Post, upd PostUpdate) {
	ok, err := h.store.UpdatePost(r.Context(), post.ForumID, post.ID, upd)
	if err == nil && !ok {
		err = models.ErrNotFound
	}
	if err == nil {
		post, err = h.store.Post(r.Context(), post.ForumID, post.ID)
	}
	if err != nil {
		h.fail(w, err, "post not found", "failed to update post")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, post)
}

func (h *Handlers) forum(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Forum, bool) {
	f, err := h.store.Forum(r.Context(), ps.ByName("id"))
	if err != nil {
		h.fail(w, err, "forum not found", "failed to load forum")
		return f, false
	}
	return f, true
}

// owned loads a forum the caller created, or any forum for an admin.
func (h *Handlers) owned(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Forum, bool) {
	f, ok := h.forum(w, r, ps)
	if !ok {
		return f, false
	}
	p := utils.GetPrincipal(r)
	if f.CreatorID != p.ID && !p.IsAdmin() {
		utils.RespondWithError(w, http.StatusForbidden, "only the forum creator can do that")
		return f, false
	}
	return f, true
}

// participant loads a forum the caller may write to. Ticket-holder forums
// are open to holders, the event organizer and admins.
func (h *Handlers) participant(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Forum, bool) {
	f, ok := h.forum(w, r, ps)
	if !ok || f.Visibility != models.ForumTicketHolders {
		return f, ok
	}
	p := utils.GetPrincipal(r)
	if p.IsAdmin() || f.CreatorID == p.ID {
		return f, true
	}
	if ev, err := h.events.Event(r.Context(), f.EventID); err == nil && ev.OrganizerID == p.ID {
		return f, true
	}
	held, err := h.holders.HoldsTicket(r.Context(), p.ID, f.EventID)
	if err != nil {
		log.WithError(err).WithField("forum", f.ID).Error("ticket holder check")
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to check tickets")
		return f, false
	}
	if !held {
		utils.RespondWithError(w, http.StatusForbidden, "this forum is for ticket holders")
		return f, false
	}
	return f, true
}

func (h *Handlers) post(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Post, bool) {
	post, err := h.store.Post(r.Context(), ps.ByName("id"), ps.ByName("postId"))
	if err != nil {
		h.fail(w, err, "post not found", "failed to load post")
		return post, false
	}
	return post, true
}

func readContent(w http.ResponseWriter, r *http.Request) (string, bool) {
	var in contentInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "content must not be blank")
		return "", false
	}
	return content, true
}

func (h *Handlers) fail(w http.ResponseWriter, err error, notFound, msg string) {
	switch {
	case errors.Is(err, models.ErrNotFound) && notFound != "":
		utils.RespondWithError(w, http.StatusNotFound, notFound)
	case errors.Is(err, models.ErrDuplicate):
		utils.RespondWithError(w, http.StatusConflict, "a forum with that name already exists for this event")
	default:
		log.WithError(err).Error(msg)
		utils.RespondWithError(w, http.StatusInternalServerError, msg)
	}
}
