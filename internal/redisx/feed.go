package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

// ChangeFeed fans change events out over one Pub/Sub channel per restaurant,
// so a subscriber only ever receives its own restaurant's rows.
type ChangeFeed struct {
	RDB *redis.Client
}

func ChannelFor(restaurantID string) string {
	return fmt.Sprintf(KeyOrderChanges, restaurantID)
}

func (f *ChangeFeed) Publish(ctx context.Context, ev orders.ChangeEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.RDB.Publish(ctx, ChannelFor(ev.RestaurantID), b).Err()
}

// Subscribe calls fn for every event on the restaurant's channel until ctx is
// done. Undecodable messages are logged and skipped.
func (f *ChangeFeed) Subscribe(ctx context.Context, restaurantID string, fn func(orders.ChangeEvent)) error {
	sub := f.RDB.Subscribe(ctx, ChannelFor(restaurantID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", restaurantID, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev orders.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("change feed: bad message on %s: %v", msg.Channel, err)
				continue
			}
			fn(ev)
		}
	}
}
