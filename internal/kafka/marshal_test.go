package kafka

import (
	"context"
	"encoding/json"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type captured struct {
	key     []byte
	value   []byte
	headers map[string]string
}

type captureSender struct{ msgs []captured }

func (c *captureSender) Publish(_ context.Context, key, value []byte, headers ...kafkago.Header) error {
	h := map[string]string{}
	for _, x := range headers {
		h[x.Key] = string(x.Value)
	}
	c.msgs = append(c.msgs, captured{key: key, value: value, headers: h})
	return nil
}

func TestChangePublisherKeysByRestaurant(t *testing.T) {
	out := &captureSender{}
	p := &ChangePublisher{Out: out, Service: "order-api"}
	ev := orders.ChangeEvent{EventID: "e1", Table: orders.TableOrders, Op: orders.OpUpdate, RestaurantID: "r1", OrderID: "O1"}
	require.NoError(t, p.PublishChange(context.Background(), ev))

	require.Len(t, out.msgs, 1)
	assert.Equal(t, "r1", string(out.msgs[0].key))
	assert.Equal(t, orders.EventOrderChanged, out.msgs[0].headers["x-event-type"])

	got, err := DecodeChange(out.msgs[0].value)
	require.NoError(t, err)
	assert.Equal(t, "O1", got.OrderID)
	assert.NotEqual(t, "e1", got.EventID, "envelope id wins")
}

func TestDecodeChangeRejectsOtherEvents(t *testing.T) {
	env, err := NewEnvelope(orders.EventSyncFailed, "x", "c1", orders.SyncFailedPayload{ClientID: "c1"})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = DecodeChange(b)
	assert.Error(t, err)
}
