package postgres

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect builds the pool. With mustReach false an unreachable server is only
// logged: the pool dials again on first use, so a point of sale can start
// offline and stage orders locally.
func Connect(ctx context.Context, dsn string, mustReach bool) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		if mustReach {
			pool.Close()
			return nil, err
		}
		log.Printf("postgres unreachable at start, continuing offline: %v", err)
	}
	return pool, nil
}
