package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type failProvider struct{}

func (failProvider) Send(ctx context.Context, msg Message) error {
	return errors.New("provider failure")
}

func takeaway() orders.Order {
	return orders.Order{
		ID:            "o3",
		RestaurantID:  "r1",
		Type:          orders.TypeTakeaway,
		PickupCode:    "AB12CD",
		CustomerEmail: "ana@example.com",
	}
}

func TestNotifyWebhook(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := New("webhook", Config{WebhookURL: srv.URL, WebhookToken: "secret"})
	require.NoError(t, err)

	res := (&Notifier{Provider: p}).Notify(context.Background(), takeaway())
	assert.True(t, res.Sent)
	assert.Equal(t, "email", res.Channel)
	assert.Equal(t, "ana@example.com", got.Recipient)
	assert.Equal(t, "Order AB12CD is ready for pickup.", got.Body)
	assert.Equal(t, "o3", got.Order.OrderID)
}

func TestNotifyWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := (&Notifier{Provider: &WebhookProvider{URL: srv.URL}}).Notify(context.Background(), takeaway())
	assert.False(t, res.Sent)
	assert.Contains(t, res.Error, "502")
}

func TestNotifyReportsFailure(t *testing.T) {
	res := (&Notifier{Provider: failProvider{}}).Notify(context.Background(), takeaway())
	assert.False(t, res.Sent)
	assert.Equal(t, "provider failure", res.Error)
}

func TestNotifyWithoutRecipient(t *testing.T) {
	o := takeaway()
	o.CustomerEmail = ""
	res := (&Notifier{Provider: NoopProvider{}}).Notify(context.Background(), o)
	assert.False(t, res.Sent)

	o.CustomerPhone = "+620000"
	res = (&Notifier{Provider: NoopProvider{}}).Notify(context.Background(), o)
	assert.True(t, res.Sent)
	assert.Equal(t, "sms", res.Channel)
}

func TestNewProviderKinds(t *testing.T) {
	p, err := New("", Config{})
	require.NoError(t, err)
	assert.IsType(t, LogProvider{}, p)

	_, err = New("webhook", Config{})
	assert.Error(t, err)

	_, err = New("amqp", Config{})
	assert.Error(t, err)
}
