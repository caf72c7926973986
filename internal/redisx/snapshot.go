package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps the last refreshed view of each order so reads can skip
// the remote store while it is fresh.
type SnapshotCache struct {
	RDB *redis.Client
}

func (c *SnapshotCache) Put(ctx context.Context, orderID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Get decodes the cached view into out and reports whether there was one.
func (c *SnapshotCache) Get(ctx context.Context, orderID string, out any) (bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *SnapshotCache) Drop(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
