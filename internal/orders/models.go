package orders

import "time"

type OrderType string

const (
	TypeDineIn   OrderType = "dine_in"
	TypeTakeaway OrderType = "takeaway"
)

func (t OrderType) Valid() bool {
	switch t {
	case TypeDineIn, TypeTakeaway:
		return true
	}
	return false
}

// Department is resolved from the menu directory, never stored on an item.
type Department string

const (
	DeptKitchen Department = "kitchen"
	DeptBar     Department = "bar"

	// DeptUnassigned groups items whose menu entry no longer resolves. No
	// staff department acts on it.
	DeptUnassigned Department = "unassigned"
)

func (d Department) Valid() bool {
	switch d {
	case DeptKitchen, DeptBar:
		return true
	}
	return false
}

type Order struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id,omitempty"`
	RestaurantID   string     `json:"restaurant_id"`
	Status         Status     `json:"status"`
	Type           OrderType  `json:"order_type"`
	Paid           bool       `json:"paid"`
	TotalCents     int        `json:"total_cents"`
	PickupCode     string     `json:"pickup_code,omitempty"`
	ReadyForPickup bool       `json:"ready_for_pickup"`
	PickedUpAt     *time.Time `json:"picked_up_at,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerEmail  string     `json:"customer_email,omitempty"`
	CustomerPhone  string     `json:"customer_phone,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Finalized reports whether no further transition may succeed: a terminal
// status, or a takeaway order that has been handed over.
func (o Order) Finalized() bool {
	return o.Status.Terminal() || o.PickedUpAt != nil
}

type OrderItem struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	MenuItemID         string     `json:"menu_item_id"`
	Quantity           int        `json:"quantity"`
	PriceCents         int        `json:"price_at_time"`
	PreparingStartedAt *time.Time `json:"preparing_started_at,omitempty"`
	MarkedReadyAt      *time.Time `json:"marked_ready_at,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
}

// ItemInput is one line of an order as captured by the point of sale.
type ItemInput struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int    `json:"price_at_time"`
}

// CreateOrderPayload is what a client stages locally and later pushes to the
// remote store. ClientID doubles as the idempotency key.
type CreateOrderPayload struct {
	ClientID      string      `json:"client_id"`
	RestaurantID  string      `json:"restaurant_id"`
	Type          OrderType   `json:"order_type"`
	Paid          bool        `json:"paid"`
	PickupCode    string      `json:"pickup_code,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	Items         []ItemInput `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
}

func (p CreateOrderPayload) Total() int {
	total := 0
	for _, it := range p.Items {
		total += it.PriceCents * it.Quantity
	}
	return total
}

func (p CreateOrderPayload) Validate() error {
	if p.ClientID == "" || p.RestaurantID == "" {
		return ErrInvalidPayload
	}
	if !p.Type.Valid() || len(p.Items) == 0 {
		return ErrInvalidPayload
	}
	for _, it := range p.Items {
		if it.MenuItemID == "" || it.Quantity <= 0 || it.PriceCents < 0 {
			return ErrInvalidPayload
		}
	}
	return nil
}

// ItemFields lists the item timestamps to stamp. Nil fields are left alone and
// stores never overwrite a timestamp that is already set.
type ItemFields struct {
	PreparingStartedAt *time.Time
	MarkedReadyAt      *time.Time
	DeliveredAt        *time.Time
}

// OrderUpdate is a guarded order write. Every guard that is set must hold on
// the stored row or the store returns ErrStaleOrder.
type OrderUpdate struct {
	ExpectStatus         Status
	ExpectReadyForPickup *bool
	RequireNotPickedUp   bool

	Status         *Status
	ReadyForPickup *bool
	PickedUpAt     *time.Time
}
