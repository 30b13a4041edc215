package analytics

import (
	"sort"
	"time"

	"eventhub/models"

	"github.com/shopspring/decimal"
)

type TierStats struct {
	Name      string       `json:"name"`
	Price     models.Money `json:"price"`
	Quantity  int          `json:"quantity"`
	Sold      int          `json:"sold"`
	Available int          `json:"available"`
	Held      int          `json:"held"`
	Revenue   models.Money `json:"revenue"`
	Fees      models.Money `json:"fees"`
	CheckIns  int          `json:"checkIns"`
	Cancelled int          `json:"cancelled"`
	Refunded  models.Money `json:"refunded"`
}

// DayPoint is one day of the sales trend, in UTC.
type DayPoint struct {
	Date    string       `json:"date"`
	Tickets int          `json:"tickets"`
	Orders  int          `json:"orders"`
	Revenue models.Money `json:"revenue"`
}

type Totals struct {
	Orders      int          `json:"orders"`
	Tickets     int          `json:"tickets"`
	Capacity    int          `json:"capacity"`
	Revenue     models.Money `json:"revenue"`
	Fees        models.Money `json:"fees"`
	Refunded    models.Money `json:"refunded"`
	CheckIns    int          `json:"checkIns"`
	Cancelled   int          `json:"cancelled"`
	SellThrough float64      `json:"sellThrough"`
	Attendance  float64      `json:"attendance"`
}

type EventReport struct {
	EventID  string             `json:"eventId"`
	Title    string             `json:"title"`
	Status   models.EventStatus `json:"status"`
	Start    time.Time          `json:"start"`
	Currency string             `json:"currency"`
	Tiers    []TierStats        `json:"tiers"`
	Totals   Totals             `json:"totals"`
	Daily    []DayPoint         `json:"daily"`
}

// Rollup summarizes an event from its live tiers and its paid tickets.
// Inventory counters come from the tiers; money and attendance from the
// tickets. Cancelled tickets count towards cancellations and refunds only.
func Rollup(ev models.Event, tiers []models.Tier, tickets []models.Ticket) EventReport {
	rep := EventReport{
		EventID:  ev.ID,
		Title:    ev.Title,
		Status:   ev.Status,
		Start:    ev.Schedule.Start,
		Currency: ev.Pricing.Currency,
		Tiers:    make([]TierStats, 0, len(tiers)),
		Daily:    []DayPoint{},
	}
	idx := map[string]int{}
	for _, t := range tiers {
		idx[t.Name] = len(rep.Tiers)
		rep.Tiers = append(rep.Tiers, TierStats{
			Name:      t.Name,
			Price:     t.Price,
			Quantity:  t.Quantity,
			Sold:      t.Sold,
			Available: t.Available,
			Held:      t.Held,
		})
	}

	var revenue, fees, refunded decimal.Decimal
	days := map[string]*DayPoint{}
	for _, tk := range tickets {
		i, ok := idx[tk.Tier]
		if !ok {
			// tier removed after sale; keep the money visible
			i = len(rep.Tiers)
			idx[tk.Tier] = i
			rep.Tiers = append(rep.Tiers, TierStats{Name: tk.Tier})
		}
		ts := &rep.Tiers[i]

		if tk.BookingState == models.StateCancelled || tk.Status == models.TicketCancelled {
			ts.Cancelled += tk.Quantity
			rep.Totals.Cancelled += tk.Quantity
			if tk.PaymentStatus == models.PaymentRefunded {
				ts.Refunded = add(ts.Refunded, tk.TotalAmount.Decimal)
				refunded = refunded.Add(tk.TotalAmount.Decimal)
			}
			continue
		}
		if tk.BookingState != models.StateCommitted && tk.BookingState != models.StatePaymentConfirmed {
			continue
		}
		ts.Revenue = add(ts.Revenue, tk.Subtotal.Decimal)
		ts.Fees = add(ts.Fees, tk.Fee.Decimal)
		revenue = revenue.Add(tk.Subtotal.Decimal)
		fees = fees.Add(tk.Fee.Decimal)
		rep.Totals.Orders++
		rep.Totals.Tickets += tk.Quantity
		if tk.CheckIn != nil {
			ts.CheckIns += tk.Quantity
			rep.Totals.CheckIns += tk.Quantity
		}

		day := tk.CreatedAt.UTC().Format("2006-01-02")
		d, ok := days[day]
		if !ok {
			d = &DayPoint{Date: day}
			days[day] = d
		}
		d.Orders++
		d.Tickets += tk.Quantity
		d.Revenue = add(d.Revenue, tk.Subtotal.Decimal)
	}

	for _, d := range days {
		rep.Daily = append(rep.Daily, *d)
	}
	sort.Slice(rep.Daily, func(i, j int) bool { return rep.Daily[i].Date < rep.Daily[j].Date })

	for _, t := range rep.Tiers {
		rep.Totals.Capacity += t.Quantity
	}
	rep.Totals.Revenue = models.NewMoney(revenue)
	rep.Totals.Fees = models.NewMoney(fees)
	rep.Totals.Refunded = models.NewMoney(refunded)
	rep.Totals.SellThrough = ratio(rep.Totals.Tickets, rep.Totals.Capacity)
	rep.Totals.Attendance = ratio(rep.Totals.CheckIns, rep.Totals.Tickets)
	return rep
}

// Summary is one row of the organizer dashboard.
type Summary struct {
	EventID  string             `json:"eventId"`
	Title    string             `json:"title"`
	Status   models.EventStatus `json:"status"`
	Start    time.Time          `json:"start"`
	Currency string             `json:"currency"`
	Totals   Totals             `json:"totals"`
}

type Dashboard struct {
	Events      []Summary               `json:"events"`
	EventCount  int                     `json:"eventCount"`
	ByStatus    map[string]int          `json:"byStatus"`
	Tickets     int                     `json:"tickets"`
	CheckIns    int                     `json:"checkIns"`
	Cancelled   int                     `json:"cancelled"`
	Revenue     map[string]models.Money `json:"revenue"`
	Refunded    map[string]models.Money `json:"refunded"`
	GeneratedAt time.Time               `json:"generatedAt"`
}

// Combine folds event reports into dashboard totals. Money is kept per
// currency since events may sell in different ones.
func Combine(reports []EventReport, now time.Time) Dashboard {
	d := Dashboard{
		Events:      make([]Summary, 0, len(reports)),
		ByStatus:    map[string]int{},
		Revenue:     map[string]models.Money{},
		Refunded:    map[string]models.Money{},
		GeneratedAt: now,
	}
	for _, r := range reports {
		d.Events = append(d.Events, Summary{
			EventID:  r.EventID,
			Title:    r.Title,
			Status:   r.Status,
			Start:    r.Start,
			Currency: r.Currency,
			Totals:   r.Totals,
		})
		d.EventCount++
		d.ByStatus[string(r.Status)]++
		d.Tickets += r.Totals.Tickets
		d.CheckIns += r.Totals.CheckIns
		d.Cancelled += r.Totals.Cancelled
		d.Revenue[r.Currency] = add(d.Revenue[r.Currency], r.Totals.Revenue.Decimal)
		d.Refunded[r.Currency] = add(d.Refunded[r.Currency], r.Totals.Refunded.Decimal)
	}
	return d
}

func add(m models.Money, d decimal.Decimal) models.Money {
	return models.NewMoney(m.Decimal.Add(d))
}

func ratio(n, of int) float64 {
	if of == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(of))).Round(4).Float64()
	return f
}
