package redisx

import "time"

const (
	// Change fan-out per restaurant: PUBLISH order_changes:{restaurant_id} <ChangeEvent JSON>
	KeyOrderChanges = "order_changes:%s"

	// Order view cache: order_status:{order_id} -> OrderView JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
