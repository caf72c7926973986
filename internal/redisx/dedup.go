package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids for TTLDedup.
type Deduper struct {
	RDB     *redis.Client
	Service string
}

// First reports whether eventID is seen for the first time, claiming it.
func (d *Deduper) First(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

// Forget releases a claim so a failed event can be processed again.
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
