package hub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastScopedByRestaurant(t *testing.T) {
	h := New()
	a := &Client{ID: "a", RestaurantID: "r1", Send: make(chan []byte, 1)}
	b := &Client{ID: "b", RestaurantID: "r2", Send: make(chan []byte, 1)}
	h.Register(a)
	h.Register(b)

	require.NoError(t, h.Publish("r1", MessageOrders, []string{"O1"}))

	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)
	var msg Message
	require.NoError(t, json.Unmarshal(<-a.Send, &msg))
	assert.Equal(t, MessageOrders, msg.Type)
	assert.JSONEq(t, `["O1"]`, string(msg.Payload))
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	h := New()
	c := &Client{ID: "a", RestaurantID: "r1", Send: make(chan []byte, 1)}
	h.Register(c)

	h.Broadcast([]byte("1"), "r1")
	h.Broadcast([]byte("2"), "r1")
	assert.Equal(t, "1", string(<-c.Send))
	assert.Empty(t, c.Send)
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New()
	c := &Client{ID: "a", RestaurantID: "r1", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	_, open := <-c.Send
	assert.False(t, open)
	assert.Zero(t, h.Len())
}
