package notify

import (
	"context"
	"strings"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

// Message is one pickup-ready alert addressed to a customer.
type Message struct {
	Channel   string                    `json:"channel"`
	Recipient string                    `json:"recipient"`
	Body      string                    `json:"body"`
	Order     orders.PickupReadyPayload `json:"order"`
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Result is reported back to the caller as-is; nothing here retries.
type Result struct {
	Sent    bool   `json:"sent"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Notifier struct {
	Provider Provider
	Template string
}

const defaultTemplate = "Order {pickup_code} is ready for pickup."

func (n *Notifier) Notify(ctx context.Context, o orders.Order) Result {
	channel, recipient := pickChannel(o)
	if recipient == "" {
		return Result{Sent: false, Error: "no recipient on order"}
	}
	msg := Message{
		Channel:   channel,
		Recipient: recipient,
		Body:      render(n.template(), o),
		Order: orders.PickupReadyPayload{
			OrderID:       o.ID,
			RestaurantID:  o.RestaurantID,
			PickupCode:    o.PickupCode,
			CustomerName:  o.CustomerName,
			CustomerEmail: o.CustomerEmail,
			CustomerPhone: o.CustomerPhone,
		},
	}
	if err := n.Provider.Send(ctx, msg); err != nil {
		return Result{Sent: false, Channel: channel, Error: err.Error()}
	}
	return Result{Sent: true, Channel: channel}
}

func (n *Notifier) template() string {
	if n.Template != "" {
		return n.Template
	}
	return defaultTemplate
}

func pickChannel(o orders.Order) (string, string) {
	if o.CustomerEmail != "" {
		return "email", o.CustomerEmail
	}
	if o.CustomerPhone != "" {
		return "sms", o.CustomerPhone
	}
	return "", ""
}

func render(template string, o orders.Order) string {
	r := strings.NewReplacer(
		"{pickup_code}", o.PickupCode,
		"{customer_name}", o.CustomerName,
		"{order_id}", o.ID,
	)
	return r.Replace(template)
}
