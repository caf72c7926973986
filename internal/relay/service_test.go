package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ariefcatur/go-realtime-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type memDedup struct {
	seen map[string]bool
}

func (d *memDedup) First(ctx context.Context, id string) (bool, error) {
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(ctx context.Context, id string) error {
	delete(d.seen, id)
	return nil
}

type memFeed struct {
	published []orders.ChangeEvent
	err       error
}

func (f *memFeed) Publish(ctx context.Context, ev orders.ChangeEvent) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, ev)
	return nil
}

func message(t *testing.T, ev orders.ChangeEvent) kafkago.Message {
	t.Helper()
	env, err := kafkax.NewEnvelope(orders.EventOrderChanged, "test", ev.OrderID, ev)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}
}

func TestRedeliveryPublishedOnce(t *testing.T) {
	feed := &memFeed{}
	s := &Service{Dedup: &memDedup{seen: map[string]bool{}}, Feed: feed}
	m := message(t, orders.ChangeEvent{Table: orders.TableOrders, RestaurantID: "r1", OrderID: "O1"})

	require.NoError(t, s.HandleChange(context.Background(), m))
	require.NoError(t, s.HandleChange(context.Background(), m))
	require.Len(t, feed.published, 1)
	assert.Equal(t, "r1", feed.published[0].RestaurantID)
	assert.NotEmpty(t, feed.published[0].EventID)
}

func TestFailedPublishIsRetried(t *testing.T) {
	feed := &memFeed{err: errors.New("redis down")}
	s := &Service{Dedup: &memDedup{seen: map[string]bool{}}, Feed: feed}
	m := message(t, orders.ChangeEvent{Table: orders.TableOrderItems, RestaurantID: "r1", OrderID: "O1"})

	require.Error(t, s.HandleChange(context.Background(), m))
	feed.err = nil
	require.NoError(t, s.HandleChange(context.Background(), m))
	assert.Len(t, feed.published, 1)
}

func TestPoisonMessageIsSkipped(t *testing.T) {
	feed := &memFeed{}
	s := &Service{Feed: feed}
	assert.NoError(t, s.HandleChange(context.Background(), kafkago.Message{Value: []byte("{")}))

	env, err := kafkax.NewEnvelope(orders.EventSyncComplete, "test", "c1", orders.SyncCompletePayload{ClientID: "c1"})
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NoError(t, s.HandleChange(context.Background(), kafkago.Message{Value: b}))
	assert.Empty(t, feed.published)
}
