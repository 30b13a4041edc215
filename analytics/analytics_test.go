package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eventhub/globals"
	"eventhub/ledger/ledgertest"
	"eventhub/models"
	"eventhub/utils"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func ticket(id, tier string, qty int, subtotal, fee string, at time.Time) models.Ticket {
	sub, f := models.MustMoney(subtotal), models.MustMoney(fee)
	return models.Ticket{
		ID: id, EventID: "evt_1", UserID: "u_" + id, Tier: tier, Quantity: qty,
		Subtotal: sub, Fee: f, TotalAmount: models.NewMoney(sub.Add(f.Decimal)),
		BookingState: models.StateCommitted, PaymentStatus: models.PaymentCompleted,
		Status: models.TicketActive, CreatedAt: at,
	}
}

func sample() (models.Event, []models.Tier, []models.Ticket) {
	ev := ledgertest.Event("evt_1", "org_1", day1.Add(60*24*time.Hour),
		models.Tier{Name: "GA", Price: models.MustMoney("20"), Quantity: 100, Sold: 5, Held: 2},
		models.Tier{Name: "VIP", Price: models.MustMoney("80"), Quantity: 10, Sold: 1},
	)
	used := ticket("t2", "GA", 2, "40.00", "2.40", day1.Add(time.Hour))
	used.CheckIn = &models.CheckIn{At: day1.Add(59 * 24 * time.Hour), By: "org_1"}
	refunded := ticket("t4", "GA", 1, "20.00", "1.20", day1)
	refunded.BookingState = models.StateCancelled
	refunded.Status = models.TicketCancelled
	refunded.PaymentStatus = models.PaymentRefunded
	list := []models.Ticket{
		ticket("t1", "GA", 3, "60.00", "3.60", day1),
		used,
		ticket("t3", "VIP", 1, "80.00", "3.20", day1.Add(24*time.Hour)),
		refunded,
	}
	return ev, ev.Pricing.Tiers, list
}

func TestRollup(t *testing.T) {
	ev, tiers, list := sample()
	rep := Rollup(ev, tiers, list)

	require.Len(t, rep.Tiers, 2)
	ga := rep.Tiers[0]
	assert.Equal(t, "GA", ga.Name)
	assert.Equal(t, 5, ga.Sold)
	assert.Equal(t, 2, ga.Held)
	assert.Equal(t, 93, ga.Available)
	assert.Equal(t, "100.00", ga.Revenue.StringFixed(2))
	assert.Equal(t, "6.00", ga.Fees.StringFixed(2))
	assert.Equal(t, 2, ga.CheckIns)
	assert.Equal(t, 1, ga.Cancelled)
	assert.Equal(t, "21.20", ga.Refunded.StringFixed(2))

	tot := rep.Totals
	assert.Equal(t, 3, tot.Orders)
	assert.Equal(t, 6, tot.Tickets)
	assert.Equal(t, 110, tot.Capacity)
	assert.Equal(t, "180.00", tot.Revenue.StringFixed(2))
	assert.Equal(t, "9.20", tot.Fees.StringFixed(2))
	assert.Equal(t, 1, tot.Cancelled)
	assert.Equal(t, 0.0545, tot.SellThrough)
	assert.Equal(t, 0.3333, tot.Attendance)

	require.Len(t, rep.Daily, 2)
	assert.Equal(t, "2026-03-10", rep.Daily[0].Date)
	assert.Equal(t, 5, rep.Daily[0].Tickets)
	assert.Equal(t, 2, rep.Daily[0].Orders)
	assert.Equal(t, "2026-03-11", rep.Daily[1].Date)
	assert.Equal(t, "80.00", rep.Daily[1].Revenue.StringFixed(2))
}

func TestRollupSkipsAbandonedBookingsAndKeepsRemovedTiers(t *testing.T) {
	ev, tiers, _ := sample()
	failed := ticket("t9", "GA", 4, "80.00", "4.80", day1)
	failed.BookingState = models.StateReleased
	legacy := ticket("t8", "Early bird", 1, "15.00", "0.90", day1)

	rep := Rollup(ev, tiers, []models.Ticket{failed, legacy})
	assert.Equal(t, 1, rep.Totals.Tickets)
	require.Len(t, rep.Tiers, 3)
	assert.Equal(t, "Early bird", rep.Tiers[2].Name)
	assert.Equal(t, "15.00", rep.Tiers[2].Revenue.StringFixed(2))
	assert.Zero(t, rep.Totals.Attendance)
}

func TestCombineKeepsCurrenciesApart(t *testing.T) {
	ev, tiers, list := sample()
	a := Rollup(ev, tiers, list)
	ev.ID, ev.Pricing.Currency = "evt_2", "eur"
	b := Rollup(ev, tiers, list[:1])

	d := Combine([]EventReport{a, b}, day1)
	assert.Equal(t, 2, d.EventCount)
	assert.Equal(t, 9, d.Tickets)
	assert.Equal(t, "180.00", d.Revenue["usd"].StringFixed(2))
	assert.Equal(t, "60.00", d.Revenue["eur"].StringFixed(2))
	assert.Equal(t, 2, d.ByStatus["published"])
}

type fakeEvents struct{ evs []models.Event }

func (f fakeEvents) Event(_ context.Context, id string) (models.Event, error) {
	for _, ev := range f.evs {
		if ev.ID == id {
			return ev, nil
		}
	}
	return models.Event{}, models.ErrNotFound
}

func (f fakeEvents) ByOrganizer(_ context.Context, org string, p utils.Page) ([]models.Event, int64, error) {
	var out []models.Event
	for _, ev := range f.evs {
		if ev.OrganizerID == org {
			out = append(out, ev)
		}
	}
	total := int64(len(out))
	if int(p.Skip()) >= len(out) {
		return nil, total, nil
	}
	return out[p.Skip():], total, nil
}

type fakeTickets map[string][]models.Ticket

func (f fakeTickets) ByEvent(_ context.Context, id string) ([]models.Ticket, error) {
	return f[id], nil
}

type fakeInventory map[string][]models.Tier

func (f fakeInventory) Availability(_ context.Context, id string) ([]models.Tier, error) {
	return f[id], nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memCache) Get(_ context.Context, k string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[k], nil
}

func (c *memCache) Set(_ context.Context, k string, v []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[k] = v
	return nil
}

func as(r *http.Request, id string, roles ...string) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, id)
	ctx = context.WithValue(ctx, globals.RoleKey, roles)
	return r.WithContext(ctx)
}

func newHandlers(cache Cache) *Handlers {
	ev, tiers, list := sample()
	other := ledgertest.Event("evt_3", "org_2", day1, ledgertest.Tier("GA", "10", 10))
	h := NewHandlers(
		fakeEvents{evs: []models.Event{ev, other}},
		fakeInventory{"evt_1": tiers, "evt_3": other.Pricing.Tiers},
		fakeTickets{"evt_1": list},
		cache,
	)
	h.now = func() time.Time { return day1 }
	return h
}

func TestEventAnalyticsAccess(t *testing.T) {
	h := newHandlers(nil)
	get := func(user string, roles ...string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := as(httptest.NewRequest("GET", "/analytics/event/evt_1", nil), user, roles...)
		h.Event(rec, req, httprouter.Params{{Key: "eventId", Value: "evt_1"}})
		return rec
	}
	assert.Equal(t, http.StatusForbidden, get("org_2", models.RoleOrganizer).Code)
	assert.Equal(t, http.StatusOK, get("adm", models.RoleAdmin).Code)

	rec := get("org_1", models.RoleOrganizer)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep EventReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 6, rep.Totals.Tickets)

	rec = httptest.NewRecorder()
	h.Event(rec, as(httptest.NewRequest("GET", "/", nil), "org_1"), httprouter.Params{{Key: "eventId", Value: "nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardIsCached(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	h := newHandlers(cache)
	get := func(user, query string, roles ...string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Dashboard(rec, as(httptest.NewRequest("GET", "/analytics/dashboard"+query, nil), user, roles...), nil)
		return rec
	}

	rec := get("org_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, 1, d.EventCount)
	assert.Equal(t, "evt_1", d.Events[0].EventID)
	assert.Empty(t, rec.Header().Get("X-Cache"))

	rec = get("org_1", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	assert.Equal(t, http.StatusForbidden, get("org_1", "?organizerId=org_2").Code)
	rec = get("adm", "?organizerId=org_2", models.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "evt_3", d.Events[0].EventID)
}
