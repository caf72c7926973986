package redisx

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// New returns a client for the change feed, dedup keys and view cache.
// Context deadlines apply to every command.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  addr,
		ClientName:            "fulfillment",
		DialTimeout:           2 * time.Second,
		ReadTimeout:           2 * time.Second,
		WriteTimeout:          2 * time.Second,
		ContextTimeoutEnabled: true,
		MaxRetries:            2,
	})
}
