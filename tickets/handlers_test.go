package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventhub/booking"
	"eventhub/booking/bookingtest"
	"eventhub/globals"
	"eventhub/ledger"
	"eventhub/ledger/ledgertest"
	"eventhub/models"
	"eventhub/payments"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	h       *Handlers
	tickets *bookingtest.Tickets
	gw      *payments.Sandbox
}

func newFixture(t *testing.T, seats int) *fixture {
	t.Helper()
	clock := ledgertest.NewClock(start.Add(-48 * time.Hour))
	events := ledgertest.NewStore(ledgertest.Event("evt_1", "org_1", start, ledgertest.Tier("GA", "25.00", seats)))
	f := &fixture{tickets: bookingtest.NewTickets(clock.Now), gw: payments.NewSandbox()}
	m := booking.NewManager(booking.Config{CommitBackoff: time.Millisecond}, booking.Deps{
		Ledger:   ledger.New(events, ledger.WithClock(clock.Now)),
		Gateway:  f.gw,
		Events:   events,
		Tickets:  f.tickets,
		Payments: bookingtest.NewPayments(),
		Users:    bookingtest.Users{"bob@example.com": {ID: "u2", Email: "bob@example.com"}},
		Notifier: &bookingtest.Notifier{},
		Locker:   &bookingtest.Locker{},
		Now:      clock.Now,
	})
	f.h = NewHandlers(m, f.tickets, events)
	return f
}

func as(r *http.Request, id string, roles ...string) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, id)
	ctx = context.WithValue(ctx, globals.RoleKey, roles)
	return r.WithContext(ctx)
}

func (f *fixture) book(t *testing.T, user, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/tickets/book", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	f.h.Book(rec, as(req, user), nil)
	return rec
}

func decodeTicket(t *testing.T, rec *httptest.ResponseRecorder) models.Ticket {
	t.Helper()
	var out struct {
		Status string        `json:"status"`
		Ticket models.Ticket `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Ticket
}

const bookGA = `{"eventId":"evt_1","ticketType":"GA","quantity":2,"paymentMethodId":"pm_card_visa"}`

func TestBookStatusCodes(t *testing.T) {
	f := newFixture(t, 2)

	rec := f.book(t, "u1", bookGA, "k1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tk := decodeTicket(t, rec)
	assert.Equal(t, models.StateCommitted, tk.BookingState)
	assert.Equal(t, "51.75", tk.TotalAmount.StringFixed(2))

	// same key replays the ticket without charging again
	rec = f.book(t, "u1", bookGA, "k1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, tk.ID, decodeTicket(t, rec).ID)
	assert.Equal(t, 1, f.gw.Captures())

	rec = f.book(t, "u2", bookGA, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "sold out")

	rec = f.book(t, "u2", `{"eventId":"evt_1","ticketType":"GA","quantity":0,"paymentMethodId":"pm_card_visa"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.book(t, "u2", `{"eventId":"evt_nope","ticketType":"GA","quantity":1,"paymentMethodId":"pm_card_visa"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.book(t, "u2", `{"eventId":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookPaymentFailures(t *testing.T) {
	f := newFixture(t, 5)

	rec := f.book(t, "u1", `{"eventId":"evt_1","ticketType":"GA","quantity":1,"paymentMethodId":"pm_card_declined"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.book(t, "u1", `{"eventId":"evt_1","ticketType":"GA","quantity":1,"paymentMethodId":"pm_card_error"}`, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMyTicketsListsOnlyPaidBookings(t *testing.T) {
	f := newFixture(t, 5)
	require.Equal(t, http.StatusCreated, f.book(t, "u1", bookGA, "").Code)
	f.book(t, "u1", `{"eventId":"evt_1","ticketType":"GA","quantity":1,"paymentMethodId":"pm_card_declined"}`, "")

	rec := httptest.NewRecorder()
	f.h.MyTickets(rec, as(httptest.NewRequest("GET", "/tickets/my-tickets", nil), "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Tickets    []models.Ticket `json:"tickets"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out.Tickets, 1)
	assert.EqualValues(t, 1, out.Pagination.Total)

	rec = httptest.NewRecorder()
	f.h.MyTickets(rec, as(httptest.NewRequest("GET", "/tickets/my-tickets?status=bogus", nil), "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanChecksInOnce(t *testing.T) {
	f := newFixture(t, 5)
	tk := decodeTicket(t, f.book(t, "u1", bookGA, ""))
	body := `{"qr":"` + QRPayload(tk) + `","location":"Gate 2"}`

	scan := func(user string, roles ...string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.h.Scan(rec, as(httptest.NewRequest("POST", "/tickets/checkin/scan", strings.NewReader(body)), user, roles...), nil)
		return rec
	}
	assert.Equal(t, http.StatusForbidden, scan("u1").Code)
	assert.Equal(t, http.StatusOK, scan("org_1", models.RoleOrganizer).Code)
	assert.Equal(t, http.StatusConflict, scan("org_1", models.RoleOrganizer).Code)

	rec := httptest.NewRecorder()
	forged := `{"qr":"evt_1|` + tk.ID + `|` + tk.Code + `|bad"}`
	f.h.Scan(rec, as(httptest.NewRequest("POST", "/tickets/checkin/scan", strings.NewReader(forged)), "org_1", models.RoleOrganizer), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAndDownload(t *testing.T) {
	f := newFixture(t, 5)
	tk := decodeTicket(t, f.book(t, "u1", bookGA, ""))
	ps := httprouter.Params{{Key: "id", Value: tk.ID}}

	rec := httptest.NewRecorder()
	f.h.QR(rec, as(httptest.NewRequest("GET", "/tickets/"+tk.ID+"/qr", nil), "u1"), ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	f.h.Download(rec, as(httptest.NewRequest("GET", "/tickets/"+tk.ID+"/download", nil), "org_1", models.RoleOrganizer), ps)
	assert.Equal(t, http.StatusForbidden, rec.Code, "organizers may read but not print")

	rec = httptest.NewRecorder()
	f.h.Download(rec, as(httptest.NewRequest("GET", "/tickets/"+tk.ID+"/download", nil), "u1"), ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	f.h.Cancel(rec, as(httptest.NewRequest("PUT", "/tickets/"+tk.ID+"/cancel", strings.NewReader(`{"reason":"sick"}`)), "u2"), ps)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	f.h.Cancel(rec, as(httptest.NewRequest("PUT", "/tickets/"+tk.ID+"/cancel", strings.NewReader(`{"reason":"sick"}`)), "u1"), ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.gw.Refunds())

	rec = httptest.NewRecorder()
	f.h.QR(rec, as(httptest.NewRequest("GET", "/tickets/"+tk.ID+"/qr", nil), "u1"), ps)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferHandler(t *testing.T) {
	f := newFixture(t, 5)
	tk := decodeTicket(t, f.book(t, "u1", bookGA, ""))
	ps := httprouter.Params{{Key: "id", Value: tk.ID}}

	rec := httptest.NewRecorder()
	f.h.Transfer(rec, as(httptest.NewRequest("POST", "/", strings.NewReader(`{"toEmail":"not-an-email"}`)), "u1"), ps)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.h.Transfer(rec, as(httptest.NewRequest("POST", "/", strings.NewReader(`{"toEmail":"bob@example.com"}`)), "u1"), ps)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.tickets.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UserID)
}
