package events

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"eventhub/models"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Query is the public event search.
type Query struct {
	Text     string
	Category string
	City     string
	Status   models.EventStatus
	From     time.Time
	To       time.Time
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	SortBy   string
}

var sortFields = map[string]string{
	"date":    "schedule.start",
	"created": "createdAt",
	"title":   "title",
}

func ParseQuery(r *http.Request) (Query, error) {
	v := r.URL.Query()
	q := Query{
		Text:     strings.TrimSpace(v.Get("search")),
		Category: strings.TrimSpace(v.Get("category")),
		City:     strings.TrimSpace(v.Get("city")),
		Status:   models.EventStatus(v.Get("status")),
		SortBy:   v.Get("sort"),
	}
	switch q.Status {
	case "":
		q.Status = models.EventPublished
	case models.EventPublished, models.EventCancelled, models.EventPostponed, models.EventCompleted:
	default:
		return q, errors.New("unknown status " + string(q.Status))
	}
	if q.SortBy == "" {
		q.SortBy = "date"
	}
	if _, ok := sortFields[strings.TrimPrefix(q.SortBy, "-")]; !ok {
		return q, errors.New("sort must be one of date, created, title")
	}

	var err error
	if s := v.Get("startDate"); s != "" {
		if q.From, err = parseDay(s); err != nil {
			return q, errors.New("startDate must be YYYY-MM-DD or RFC3339")
		}
	}
	if s := v.Get("endDate"); s != "" {
		if q.To, err = parseDay(s); err != nil {
			return q, errors.New("endDate must be YYYY-MM-DD or RFC3339")
		}
		if len(s) == len("2006-01-02") {
			q.To = q.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if q.MinPrice, err = parsePrice(v.Get("minPrice")); err != nil {
		return q, errors.New("minPrice must be a number")
	}
	if q.MaxPrice, err = parsePrice(v.Get("maxPrice")); err != nil {
		return q, errors.New("maxPrice must be a number")
	}
	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return q, errors.New("minPrice is above maxPrice")
	}
	return q, nil
}

func parseDay(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parsePrice(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil, errors.New("bad price")
	}
	return &d, nil
}

func dec128(d decimal.Decimal) primitive.Decimal128 {
	v, _ := primitive.ParseDecimal128(d.String())
	return v
}

func (q Query) Filter() bson.M {
	f := bson.M{"status": q.Status}
	if q.Text != "" {
		f["$text"] = bson.M{"$search": q.Text}
	}
	if q.Category != "" {
		f["category"] = q.Category
	}
	if q.City != "" {
		f["venue.city"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(q.City) + "$", Options: "i"}
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		r := bson.M{}
		if !q.From.IsZero() {
			r["$gte"] = q.From
		}
		if !q.To.IsZero() {
			r["$lte"] = q.To
		}
		f["schedule.start"] = r
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		r := bson.M{}
		if q.MinPrice != nil {
			r["$gte"] = dec128(*q.MinPrice)
		}
		if q.MaxPrice != nil {
			r["$lte"] = dec128(*q.MaxPrice)
		}
		f["pricing.tiers"] = bson.M{"$elemMatch": bson.M{"price": r}}
	}
	return f
}

func (q Query) Sort() bson.D {
	dir := 1
	key := q.SortBy
	if strings.HasPrefix(key, "-") {
		dir, key = -1, key[1:]
	}
	field, ok := sortFields[key]
	if !ok {
		field = "schedule.start"
	}
	return bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}}
}
