package events

import (
	"net/http/httptest"
	"testing"
	"time"

	"eventhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseQueryDefaults(t *testing.T) {
	q, err := ParseQuery(httptest.NewRequest("GET", "/events", nil))
	require.NoError(t, err)
	assert.Equal(t, models.EventPublished, q.Status)
	assert.Equal(t, bson.M{"status": models.EventPublished}, q.Filter())
	assert.Equal(t, bson.D{{Key: "schedule.start", Value: 1}, {Key: "_id", Value: 1}}, q.Sort())
}

func TestQueryFilter(t *testing.T) {
	q, err := ParseQuery(httptest.NewRequest("GET",
		"/events?search=jazz&category=music&city=New+York&startDate=2026-07-01&endDate=2026-07-31&minPrice=10&maxPrice=99.50&sort=-created", nil))
	require.NoError(t, err)

	f := q.Filter()
	assert.Equal(t, bson.M{"$search": "jazz"}, f["$text"])
	assert.Equal(t, "music", f["category"])
	assert.Equal(t, primitive.Regex{Pattern: `^New York$`, Options: "i"}, f["venue.city"])

	dates := f["schedule.start"].(bson.M)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), dates["$gte"])
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), dates["$lte"])

	price := f["pricing.tiers"].(bson.M)["$elemMatch"].(bson.M)["price"].(bson.M)
	assert.Equal(t, "10", price["$gte"].(primitive.Decimal128).String())
	assert.Equal(t, "99.5", price["$lte"].(primitive.Decimal128).String())

	assert.Equal(t, bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}, q.Sort())
}

func TestParseQueryRejects(t *testing.T) {
	for _, u := range []string{
		"/events?status=draft",
		"/events?sort=price",
		"/events?startDate=tomorrow",
		"/events?minPrice=-1",
		"/events?minPrice=50&maxPrice=10",
	} {
		_, err := ParseQuery(httptest.NewRequest("GET", u, nil))
		assert.Error(t, err, u)
	}
}
