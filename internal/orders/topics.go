package orders

const (
	TopicOrderChanges = "order.changes"
	TopicOrderSync    = "order.sync"
)

// Partition key = restaurant_id, so every change of one restaurant keeps its order.
func PartitionKey(restaurantID string) []byte { return []byte(restaurantID) }
