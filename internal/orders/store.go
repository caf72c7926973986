package orders

import "context"

// RemoteStore is the authoritative, shared order backend. Every call may block
// on the network; failures to reach it wrap ErrConnectivity.
type RemoteStore interface {
	// CreateOrder is idempotent on idempotencyKey: a repeated call returns the
	// order created the first time with existed=true.
	CreateOrder(ctx context.Context, payload CreateOrderPayload, idempotencyKey string) (order Order, existed bool, err error)
	UpdateOrderItems(ctx context.Context, ids []string, fields ItemFields) error
	UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error
	ReadOrder(ctx context.Context, id string) (Order, error)
	ReadOrderItems(ctx context.Context, ids []string) ([]OrderItem, error)
	ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	ListOrders(ctx context.Context, restaurantID string) ([]Order, error)
	Ping(ctx context.Context) error
}

// ChangePublisher receives a change notification after each committed write.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev ChangeEvent) error
}
