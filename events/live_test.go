package events

import (
	"encoding/json"
	"testing"
	"time"

	"eventhub/mq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRoutesUpdatesByEvent(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := &Client{Send: make(chan []byte, 4), Room: "evt_1"}
	b := &Client{Send: make(chan []byte, 4), Room: "evt_2"}
	require.True(t, hub.join(a))
	require.True(t, hub.join(b))

	data, _ := json.Marshal(mq.InventoryUpdate{EventID: "evt_1", Tiers: []mq.TierCount{{Name: "GA", Available: 3}}})
	hub.OnInventory(data)
	hub.OnInventory([]byte("{not json"))

	select {
	case got := <-a.Send:
		assert.JSONEq(t, string(data), string(got))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update")
	}
	select {
	case got := <-b.Send:
		t.Fatalf("evt_2 watcher got %s", got)
	case <-time.After(50 * time.Millisecond):
	}

	hub.leave(a)
	assert.Eventually(t, func() bool { return hub.Watchers("evt_1") == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-a.Send
	assert.False(t, open)
	assert.Equal(t, 1, hub.Watchers("evt_2"))
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := &Client{Send: make(chan []byte, 1), Room: "evt_1"}
	require.True(t, hub.join(c))
	hub.Stop()

	select {
	case _, open := <-c.Send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("client not closed on stop")
	}
	// publishing after stop must not block
	hub.Publish("evt_1", []byte("{}"))
}
