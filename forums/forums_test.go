package forums

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"eventhub/booking/bookingtest"
	"eventhub/globals"
	"eventhub/ledger/ledgertest"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu     sync.Mutex
	forums map[string]models.Forum
	posts  map[string]models.Post
}

func newMemStore() *memStore {
	return &memStore{forums: map[string]models.Forum{}, posts: map[string]models.Post{}}
}

func (m *memStore) Insert(_ context.Context, f *models.Forum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.forums {
		if o.EventID == f.EventID && o.Name == f.Name {
			return models.ErrDuplicate
		}
	}
	m.forums[f.ID] = *f
	return nil
}

func (m *memStore) Forum(_ context.Context, id string) (models.Forum, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forums[id]
	if !ok {
		return f, models.ErrNotFound
	}
	return f, nil
}

func (m *memStore) List(_ context.Context, f Filter, _ utils.Page) ([]models.Forum, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Forum{}
	for _, fr := range m.forums {
		if (f.EventID == "" || fr.EventID == f.EventID) && (f.Category == "" || fr.Category == f.Category) &&
			(f.Search == "" || strings.Contains(strings.ToLower(fr.Name), strings.ToLower(f.Search))) {
			out = append(out, fr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memStore) Update(_ context.Context, id string, u ForumUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forums[id]
	if !ok {
		return false, nil
	}
	if u.Name != nil {
		f.Name = *u.Name
	}
	if u.Description != nil {
		f.Description = *u.Description
	}
	if u.Category != nil {
		f.Category = *u.Category
	}
	if u.Join != "" && !slices.Contains(f.Members, u.Join) {
		f.Members = append(f.Members, u.Join)
	}
	if u.Leave != "" {
		f.Members = slices.DeleteFunc(f.Members, func(s string) bool { return s == u.Leave })
	}
	m.forums[id] = f
	return true, nil
}

func (m *memStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forums[id]; !ok {
		return false, nil
	}
	delete(m.forums, id)
	for pid, p := range m.posts {
		if p.ForumID == id {
			delete(m.posts, pid)
		}
	}
	return true, nil
}

func (m *memStore) InsertPost(_ context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = *p
	f := m.forums[p.ForumID]
	f.PostCount++
	m.forums[p.ForumID] = f
	return nil
}

func (m *memStore) Post(_ context.Context, forumID, postID string) (models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.ForumID != forumID {
		return models.Post{}, models.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Posts(_ context.Context, forumID string, _ utils.Page) ([]models.Post, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Post{}
	for _, p := range m.posts {
		if p.ForumID == forumID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, int64(len(out)), nil
}

func (m *memStore) UpdatePost(_ context.Context, forumID, postID string, u PostUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.ForumID != forumID {
		return false, nil
	}
	if u.Report != nil && slices.ContainsFunc(p.Reports, func(r models.Report) bool { return r.By == u.Report.By }) {
		return false, nil
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.Pinned != nil {
		p.Pinned = *u.Pinned
	}
	if u.Like != "" && !slices.Contains(p.Likes, u.Like) {
		p.Likes = append(p.Likes, u.Like)
	}
	if u.Unlike != "" {
		p.Likes = slices.DeleteFunc(p.Likes, func(s string) bool { return s == u.Unlike })
	}
	if u.Reply != nil {
		p.Replies = append(p.Replies, *u.Reply)
	}
	if u.EditReply != nil || u.DropReply != "" {
		id := u.DropReply
		if u.EditReply != nil {
			id = u.EditReply.ID
		}
		i := slices.IndexFunc(p.Replies, func(r models.Reply) bool { return r.ID == id })
		if i < 0 {
			return false, nil
		}
		p.Replies = slices.Clone(p.Replies)
		if u.EditReply != nil {
			at := t0
			p.Replies[i].Content, p.Replies[i].EditedAt = u.EditReply.Content, &at
		} else {
			p.Replies = slices.Delete(p.Replies, i, i+1)
		}
	}
	if u.Report != nil {
		p.Reports = append(p.Reports, *u.Report)
	}
	m.posts[postID] = p
	return true, nil
}

func (m *memStore) DeletePost(_ context.Context, forumID, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok || p.ForumID != forumID {
		return false, nil
	}
	delete(m.posts, postID)
	f := m.forums[forumID]
	f.PostCount--
	m.forums[forumID] = f
	return true, nil
}

type fixture struct {
	h       *Handlers
	store   *memStore
	tickets *bookingtest.Tickets
}

func newFixture() *fixture {
	events := ledgertest.NewStore(ledgertest.Event("evt_1", "org_1", t0.Add(30*24*time.Hour), ledgertest.Tier("GA", "20.00", 100)))
	store := newMemStore()
	tickets := bookingtest.NewTickets(func() time.Time { return t0 })
	h := NewHandlers(store, tickets, events)
	h.now = func() time.Time { return t0 }
	return &fixture{h: h, store: store, tickets: tickets}
}

func as(r *http.Request, id string, roles ...string) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, id)
	ctx = context.WithValue(ctx, globals.RoleKey, roles)
	return r.WithContext(ctx)
}

func do(h httprouter.Handle, method, body, user string, ps ...string) *httptest.ResponseRecorder {
	var params httprouter.Params
	for i := 0; i+1 < len(ps); i += 2 {
		params = append(params, httprouter.Param{Key: ps[i], Value: ps[i+1]})
	}
	req := as(httptest.NewRequest(method, "/forums", strings.NewReader(body)), user)
	rec := httptest.NewRecorder()
	h(rec, req, params)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) forum(t *testing.T, user, body string) models.Forum {
	t.Helper()
	rec := do(f.h.Create, "POST", body, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Forum](t, rec)
}

func (f *fixture) post(t *testing.T, forumID, user, content string) models.Post {
	t.Helper()
	rec := do(f.h.CreatePost, "POST", `{"content":"`+content+`"}`, user, "id", forumID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Post](t, rec)
}

func TestCreateForum(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":" Car pool ","category":"Travel"}`)
	assert.Equal(t, "Car pool", fr.Name)
	assert.Equal(t, "travel", fr.Category)
	assert.Equal(t, models.ForumPublic, fr.Visibility)
	assert.Equal(t, []string{"u1"}, fr.Members)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"duplicate name", `{"eventId":"evt_1","name":"Car pool"}`, http.StatusConflict},
		{"unknown event", `{"eventId":"evt_x","name":"Other"}`, http.StatusNotFound},
		{"blank name", `{"eventId":"evt_1","name":"   "}`, http.StatusBadRequest},
		{"bad visibility", `{"eventId":"evt_1","name":"x","visibility":"secret"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := do(f.h.Create, "POST", c.body, "u2")
			assert.Equal(t, c.code, rec.Code, rec.Body.String())
		})
	}
}

func TestOnlyCreatorUpdatesForum(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"Lineup"}`)

	rec := do(f.h.Update, "PUT", `{"description":"who plays when"}`, "u2", "id", fr.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(f.h.Update, "PUT", `{"description":"who plays when"}`, "u1", "id", fr.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "who plays when", decode[models.Forum](t, rec).Description)

	rec = do(f.h.Delete, "DELETE", "", "u1", "id", fr.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(f.h.Get, "GET", "", "u1", "id", fr.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketHolderForumNeedsTicket(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"Holders lounge","visibility":"ticket-holders"}`)

	rec := do(f.h.CreatePost, "POST", `{"content":"hi"}`, "u2", "id", fr.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.Join, "POST", "", "u2", "id", fr.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, f.tickets.Insert(context.Background(), &models.Ticket{
		ID: "tkt_1", EventID: "evt_1", UserID: "u2", Quantity: 1,
		BookingState: models.StateCommitted, Status: models.TicketActive, CreatedAt: t0, UpdatedAt: t0,
	}))
	f.post(t, fr.ID, "u2", "see you there")
	rec = do(f.h.Join, "POST", "", "u2", "id", fr.ID)
	assert.Equal(t, http.StatusOK, rec.Code)

	// the organizer needs no ticket
	f.post(t, fr.ID, "org_1", "doors open at 7")

	require.NoError(t, f.tickets.Insert(context.Background(), &models.Ticket{
		ID: "tkt_2", EventID: "evt_1", UserID: "u3", Quantity: 1,
		BookingState: models.StateCommitted, Status: models.TicketCancelled, CreatedAt: t0, UpdatedAt: t0,
	}))
	rec = do(f.h.CreatePost, "POST", `{"content":"refunded but here"}`, "u3", "id", fr.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	got, err := f.store.Forum(context.Background(), fr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PostCount)
	assert.ElementsMatch(t, []string{"u1", "u2"}, got.Members)
}

func TestPostInteractions(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"General"}`)
	p := f.post(t, fr.ID, "u2", "first")
	ids := []string{"id", fr.ID, "postId", p.ID}

	rec := do(f.h.EditPost, "PUT", `{"content":"hijack"}`, "u3", ids...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.EditPost, "PUT", `{"content":"first!"}`, "u2", ids...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first!", decode[models.Post](t, rec).Content)

	do(f.h.Like, "POST", "", "u3", ids...)
	rec = do(f.h.Like, "POST", "", "u3", ids...)
	assert.Equal(t, []string{"u3"}, decode[models.Post](t, rec).Likes)
	rec = do(f.h.Unlike, "DELETE", "", "u3", ids...)
	assert.Empty(t, decode[models.Post](t, rec).Likes)

	rec = do(f.h.Reply, "POST", `{"content":"agreed"}`, "u3", ids...)
	require.Equal(t, http.StatusOK, rec.Code)
	replies := decode[models.Post](t, rec).Replies
	require.Len(t, replies, 1)
	assert.Equal(t, "u3", replies[0].AuthorID)

	rec = do(f.h.Report, "POST", `{"reason":"spam"}`, "u3", ids...)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(f.h.Report, "POST", `{"reason":"spam"}`, "u3", ids...)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(f.h.DeletePost, "DELETE", "", "u3", ids...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.DeletePost, "DELETE", "", "u1", ids...)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(f.h.Like, "POST", "", "u3", ids...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPinnedPostsComeFirst(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"News"}`)
	old := f.post(t, fr.ID, "u1", "rules")
	f.h.now = func() time.Time { return t0.Add(time.Hour) }
	f.post(t, fr.ID, "u2", "newer")

	rec := do(f.h.Pin, "POST", "", "u2", "id", fr.ID, "postId", old.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.Pin, "POST", "", "u1", "id", fr.ID, "postId", old.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(f.h.Posts, "GET", "", "u2", "id", fr.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Posts []models.Post `json:"posts"`
	}](t, rec)
	require.Len(t, body.Posts, 2)
	assert.Equal(t, old.ID, body.Posts[0].ID)
	assert.True(t, body.Posts[0].Pinned)
}

func TestCreatorCannotLeave(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"Afterparty"}`)
	rec := do(f.h.Leave, "POST", "", "u1", "id", fr.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	do(f.h.Join, "POST", "", "u2", "id", fr.ID)
	rec = do(f.h.Leave, "POST", "", "u2", "id", fr.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	got, _ := f.store.Forum(context.Background(), fr.ID)
	assert.Equal(t, []string{"u1"}, got.Members)
}

func TestListByEvent(t *testing.T) {
	f := newFixture()
	f.forum(t, "u1", `{"eventId":"evt_1","name":"A"}`)
	f.forum(t, "u1", `{"eventId":"evt_1","name":"B","category":"travel"}`)

	rec := do(f.h.ByEvent, "GET", "", "", "eventId", "evt_1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Forums []models.Forum `json:"forums"`
	}](t, rec)
	assert.Len(t, body.Forums, 2)
}

func TestUpdateDocs(t *testing.T) {
	rep := &models.Report{By: "u3", Reason: "spam", At: t0}
	assert.Equal(t, bson.M{"_id": "p1", "forumId": "f1", "reports.by": bson.M{"$ne": "u3"}},
		postFilter("f1", "p1", PostUpdate{Report: rep}))
	assert.Equal(t, bson.M{"$push": bson.M{"reports": *rep}}, postUpdateDoc(PostUpdate{Report: rep}, t0))

	on := true
	assert.Equal(t, bson.M{"$set": bson.M{"pinned": true}, "$addToSet": bson.M{"likes": "u1"}},
		postUpdateDoc(PostUpdate{Pinned: &on, Like: "u1"}, t0))

	assert.Equal(t, bson.M{"$set": bson.M{"updatedAt": t0}, "$pull": bson.M{"members": "u2"}},
		forumUpdateDoc(ForumUpdate{Leave: "u2"}, t0))

	assert.Equal(t, bson.M{"eventId": "evt_1", "$or": bson.A{
		bson.M{"name": bson.M{"$regex": `a\.b`, "$options": "i"}},
		bson.M{"description": bson.M{"$regex": `a\.b`, "$options": "i"}},
	}}, listFilter(Filter{EventID: "evt_1", Search: "a.b"}))
}

func TestEditAndDeleteReplies(t *testing.T) {
	f := newFixture()
	fr := f.forum(t, "u1", `{"eventId":"evt_1","name":"Setlist"}`)
	p := f.post(t, fr.ID, "u2", "opener?")
	rec := do(f.h.Reply, "POST", `{"content":"the horns"}`, "u3", "id", fr.ID, "postId", p.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[models.Post](t, rec).Replies[0]
	ids := []string{"id", fr.ID, "postId", p.ID, "replyId", reply.ID}

	rec = do(f.h.EditReply, "PUT", `{"content":"strings"}`, "u2", ids...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.EditReply, "PUT", `{"content":"  "}`, "u3", ids...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(f.h.EditReply, "PUT", `{"content":"the strings"}`, "u3", ids...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[models.Post](t, rec).Replies
	require.Len(t, got, 1)
	assert.Equal(t, "the strings", got[0].Content)
	assert.NotNil(t, got[0].EditedAt)

	missing := []string{"id", fr.ID, "postId", p.ID, "replyId", "rpl_nope"}
	rec = do(f.h.EditReply, "PUT", `{"content":"x"}`, "u3", missing...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the post author is neither the reply author nor the forum creator
	rec = do(f.h.DeleteReply, "DELETE", "", "u2", ids...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(f.h.DeleteReply, "DELETE", "", "u1", ids...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[models.Post](t, rec).Replies)
	rec = do(f.h.DeleteReply, "DELETE", "", "u3", ids...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplyUpdateDocs(t *testing.T) {
	edit := PostUpdate{EditReply: &ReplyEdit{ID: "rpl_1", Content: "new"}}
	assert.Equal(t, bson.M{"_id": "p1", "forumId": "f1", "replies.id": "rpl_1"}, postFilter("f1", "p1", edit))
	assert.Equal(t, bson.M{"$set": bson.M{"replies.$.content": "new", "replies.$.editedAt": t0}}, postUpdateDoc(edit, t0))

	drop := PostUpdate{DropReply: "rpl_1", Unlike: "u2"}
	assert.Equal(t, bson.M{"_id": "p1", "forumId": "f1", "replies.id": "rpl_1"}, postFilter("f1", "p1", drop))
	assert.Equal(t, bson.M{"$pull": bson.M{"likes": "u2", "replies": bson.M{"id": "rpl_1"}}}, postUpdateDoc(drop, t0))
}
