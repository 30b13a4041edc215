package utils

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentIsNotRetried(t *testing.T) {
	sentinel := errors.New("closed")
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Hour, func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTicketCodesAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		code := GenerateTicketCode()
		require.True(t, strings.HasPrefix(code, "TKT-"))
		require.False(t, seen[code])
		seen[code] = true
	}
}

func TestParsePageClamps(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?page=-2&limit=1000", nil)
	p := ParsePage(r, 20, 100)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.Limit)
	assert.EqualValues(t, 0, p.Skip())

	r = httptest.NewRequest("GET", "/x?page=3", nil)
	p = ParsePage(r, 20, 100)
	assert.EqualValues(t, 40, p.Skip())
}

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	err := Validate(sample{Quantity: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email is required")
	assert.Contains(t, err.Error(), "quantity must be at least 1")

	assert.NoError(t, Validate(sample{Email: "a@b.co", Quantity: 2}))
}

func TestDecodeJSONRejectsEmptyBody(t *testing.T) {
	r := httptest.NewRequest("POST", "/x", strings.NewReader(""))
	var s sample
	assert.EqualError(t, DecodeJSON(r, &s), "request body is empty")
}
