package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventhub/globals"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	payments map[string]models.Payment
	filter   HistoryFilter
}

func (f *fakeReader) Get(_ context.Context, id string) (models.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return p, models.ErrNotFound
	}
	return p, nil
}

func (f *fakeReader) History(_ context.Context, userID string, hf HistoryFilter, page utils.Page) ([]models.Payment, int64, error) {
	f.filter = hf
	var out []models.Payment
	for _, p := range f.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func asUser(r *http.Request, id string, roles ...string) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, id)
	ctx = context.WithValue(ctx, globals.RoleKey, roles)
	return r.WithContext(ctx)
}

func TestDetailOnlyForOwnerOrAdmin(t *testing.T) {
	h := NewHandlers(&fakeReader{payments: map[string]models.Payment{
		"pay_1": {ID: "pay_1", UserID: "u1", Status: models.PaymentCompleted},
	}})
	ps := httprouter.Params{{Key: "id", Value: "pay_1"}}

	rec := httptest.NewRecorder()
	h.Detail(rec, asUser(httptest.NewRequest("GET", "/payments/pay_1", nil), "u1"), ps)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Detail(rec, asUser(httptest.NewRequest("GET", "/payments/pay_1", nil), "u2"), ps)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.Detail(rec, asUser(httptest.NewRequest("GET", "/payments/pay_1", nil), "u2", models.RoleAdmin), ps)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Detail(rec, asUser(httptest.NewRequest("GET", "/payments/nope", nil), "u1"), httprouter.Params{{Key: "id", Value: "nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryParsesFilters(t *testing.T) {
	reader := &fakeReader{payments: map[string]models.Payment{}}
	h := NewHandlers(reader)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/payments/history?status=refunded&eventId=evt_1&startDate=2026-01-01&endDate=2026-01-31", nil)
	h.History(rec, asUser(req, "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "refunded", reader.filter.Status)
	assert.Equal(t, "evt_1", reader.filter.EventID)
	assert.Equal(t, 2026, reader.filter.From.Year())
	assert.Equal(t, 31, reader.filter.To.Day())
	assert.Equal(t, 23, reader.filter.To.Hour())

	rec = httptest.NewRecorder()
	h.History(rec, asUser(httptest.NewRequest("GET", "/payments/history?status=bogus", nil), "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryQuery(t *testing.T) {
	q := historyQuery("u1", HistoryFilter{EventID: "evt_1"})
	assert.Equal(t, "u1", q["userId"])
	assert.Equal(t, "evt_1", q["eventId"])
	assert.NotContains(t, q, "createdAt")
}
