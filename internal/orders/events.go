package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderChanged = "OrderChanged"
	EventSyncStarted  = "SyncStarted"
	EventSyncComplete = "SyncComplete"
	EventSyncFailed   = "SyncFailed"
	EventPickupReady  = "PickupReady"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id or client id
	Payload       json.RawMessage `json:"payload"`
}

const (
	TableOrders     = "orders"
	TableOrderItems = "order_items"
)

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is a push notification about rows of one restaurant. Consumers
// treat it as a hint to re-read, never as the new state.
type ChangeEvent struct {
	EventID      string    `json:"event_id"`
	Table        string    `json:"table"`
	Op           ChangeOp  `json:"op"`
	RestaurantID string    `json:"restaurant_id"`
	OrderID      string    `json:"order_id"`
	RowIDs       []string  `json:"row_ids,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type SyncCompletePayload struct {
	ClientID string `json:"client_id"`
	OrderID  string `json:"order_id"`
	Existed  bool   `json:"existed"`
}

type SyncFailedPayload struct {
	ClientID string `json:"client_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

type PickupReadyPayload struct {
	OrderID       string `json:"order_id"`
	RestaurantID  string `json:"restaurant_id"`
	PickupCode    string `json:"pickup_code"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}
