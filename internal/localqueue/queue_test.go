package localqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

func openTemp(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func payload(clientID, restaurantID string) orders.CreateOrderPayload {
	return orders.CreateOrderPayload{
		ClientID:     clientID,
		RestaurantID: restaurantID,
		Type:         orders.TypeDineIn,
		Items:        []orders.ItemInput{{MenuItemID: "burger", Quantity: 2, PriceCents: 750}},
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPutGetDelete(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()

	e, created, err := q.Put(ctx, payload("c1", "r1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StateQueued, e.State)
	assert.Equal(t, "c1", e.ClientID)
	assert.Equal(t, 1500, e.Payload.Total())
	assert.Nil(t, e.NextAttemptAt)

	_, created, err = q.Put(ctx, payload("c1", "r1"))
	require.NoError(t, err)
	assert.False(t, created)

	all, err := q.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, q.Delete(ctx, "c1"))
	_, err = q.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, q.Delete(ctx, "c1"))
}

func TestPutRejectsMissingClientID(t *testing.T) {
	q, _ := openTemp(t)
	_, _, err := q.Put(context.Background(), payload("", "r1"))
	assert.ErrorIs(t, err, orders.ErrInvalidPayload)
}

func TestListKeepsCreationOrder(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	for _, id := range []string{"c3", "c1", "c2"} {
		_, _, err := q.Put(ctx, payload(id, "r1"))
		require.NoError(t, err)
	}
	_, _, err := q.Put(ctx, payload("other", "r2"))
	require.NoError(t, err)

	entries, err := q.List(ctx, "r1")
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ClientID)
	}
	assert.Equal(t, []string{"c3", "c1", "c2"}, ids)
}

func TestMarkFailedTracksAttempts(t *testing.T) {
	q, _ := openTemp(t)
	ctx := context.Background()
	_, _, err := q.Put(ctx, payload("c1", "r1"))
	require.NoError(t, err)

	next := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	require.NoError(t, q.MarkSyncing(ctx, "c1"))
	require.NoError(t, q.MarkFailed(ctx, "c1", "remote store unreachable", next))
	require.NoError(t, q.MarkFailed(ctx, "c1", "remote store unreachable", next))

	e, err := q.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, 2, e.Attempts)
	assert.Equal(t, "remote store unreachable", e.LastError)
	require.NotNil(t, e.NextAttemptAt)
	assert.True(t, next.Equal(*e.NextAttemptAt))
	assert.False(t, e.Due(next.Add(-time.Second)))
	assert.True(t, e.Due(next))

	assert.ErrorIs(t, q.MarkSyncing(ctx, "missing"), ErrNotFound)
}

func TestReopenRecoversInterruptedEntries(t *testing.T) {
	q, path := openTemp(t)
	ctx := context.Background()
	_, _, err := q.Put(ctx, payload("c1", "r1"))
	require.NoError(t, err)
	_, _, err = q.Put(ctx, payload("c2", "r1"))
	require.NoError(t, err)
	require.NoError(t, q.MarkSyncing(ctx, "c1"))
	require.NoError(t, q.Close())

	q2, err := Open(path)
	require.NoError(t, err)
	defer q2.Close()

	entries, err := q2.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StateQueued, entries[0].State)
	assert.Equal(t, "c1", entries[0].ClientID)
	assert.Equal(t, "burger", entries[1].Payload.Items[0].MenuItemID)
}
