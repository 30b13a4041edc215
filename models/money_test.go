package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestMoneyStoredAsDecimal128(t *testing.T) {
	in := struct {
		Price Money `bson:"price"`
	}{Price: MustMoney("103.20")}

	raw, err := bson.Marshal(in)
	require.NoError(t, err)

	var doc bson.Raw = raw
	assert.Equal(t, "103.20", doc.Lookup("price").Decimal128().String())

	var out struct {
		Price Money `bson:"price"`
	}
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.True(t, out.Price.Equal(in.Price.Decimal))
}

func TestMoneyDecodesLegacyDoubles(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"price": 49.5})
	require.NoError(t, err)

	var out struct {
		Price Money `bson:"price"`
	}
	require.NoError(t, bson.Unmarshal(raw, &out))
	assert.Equal(t, "49.5", out.Price.String())
}

func TestMoneyJSONIsFixedPointNumber(t *testing.T) {
	b, err := json.Marshal(map[string]Money{"total": MustMoney("3.2")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 3.20}`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"12.345"`), &m))
	assert.Equal(t, "12.345", m.String())
}
