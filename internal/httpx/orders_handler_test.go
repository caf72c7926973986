package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/hub"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/localqueue"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/menu"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/notify"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders/ordertest"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/syncer"
)

type memCache struct {
	mu    sync.Mutex
	views map[string][]byte
}

func (c *memCache) Put(_ context.Context, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[id] = b
	return nil
}

func (c *memCache) Get(_ context.Context, id string, out any) (bool, error) {
	c.mu.Lock()
	b, ok := c.views[id]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (c *memCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.views[id]
	return ok
}

func (c *memCache) Drop(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	return nil
}

type fixture struct {
	srv     *httptest.Server
	handler *OrdersHandler
	store   *ordertest.MemStore
	cache   *memCache
	hub     *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ordertest.NewMemStore()
	q, err := localqueue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	dir := menu.Static{"burger": orders.DeptKitchen, "mojito": orders.DeptBar}
	engine := fulfillment.New(store, dir, &notify.Notifier{Provider: notify.NoopProvider{}})
	f := &fixture{store: store, cache: &memCache{views: map[string][]byte{}}, hub: hub.New()}
	h := &OrdersHandler{
		Engine: engine,
		Sync:   syncer.New(store, q, syncer.Config{}),
		Cache:  f.cache,
		Hub:    f.hub,

		ServeCached: true,
	}
	f.handler = h
	r := NewRouter()
	h.Register(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, role, dept, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(HeaderRestaurant, "r1")
	req.Header.Set(HeaderRole, role)
	if dept != "" {
		req.Header.Set(HeaderDepartment, dept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func seed(f *fixture, id string, typ orders.OrderType, status orders.Status, menuItems ...string) {
	items := make([]orders.OrderItem, 0, len(menuItems))
	for _, m := range menuItems {
		items = append(items, orders.OrderItem{MenuItemID: m, Quantity: 1, PriceCents: 500})
	}
	f.store.Seed(orders.Order{ID: id, RestaurantID: "r1", Type: typ, Status: status, PickupCode: "AB12CD"}, items)
}

func TestDepartmentOperationsOverHTTP(t *testing.T) {
	f := newFixture(t)
	seed(f, "O1", orders.TypeDineIn, orders.StatusPending, "burger", "mojito")

	resp, body := f.do(t, http.MethodPost, "/orders/O1/departments/kitchen/start", "staff", "kitchen", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["outcome"])

	resp, _ = f.do(t, http.MethodPost, "/orders/O1/departments/kitchen/start", "staff", "bar", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/orders/O1/departments/kitchen/ready", "staff", "kitchen", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.do(t, http.MethodPost, "/orders/O1/departments/bar/ready", "manager", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "ready", order["status"])

	resp, body = f.do(t, http.MethodGet, "/orders/O1/departments", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["fully_ready"])

	resp, _ = f.do(t, http.MethodPost, "/orders/O1/departments/kitchen/explode", "manager", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/orders/O1/departments/pastry/start", "manager", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIllegalTransitionReportsState(t *testing.T) {
	f := newFixture(t)
	seed(f, "O1", orders.TypeDineIn, orders.StatusCompleted, "burger")

	resp, body := f.do(t, http.MethodPost, "/orders/O1/cancel", "manager", "", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	state := body["state"].(map[string]any)
	assert.Equal(t, "completed", state["status"])

	resp, _ = f.do(t, http.MethodPost, "/orders/missing/complete", "manager", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPickupOverHTTP(t *testing.T) {
	f := newFixture(t)
	seed(f, "T1", orders.TypeTakeaway, orders.StatusReady, "burger")

	resp, _ := f.do(t, http.MethodPost, "/orders/T1/pickup/confirm", "cashier", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/orders/T1/pickup/ready", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["notification"])

	resp, _ = f.do(t, http.MethodPost, "/orders/T1/pickup/confirm", "cashier", "", `{"code":"ZZZZZZ"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/orders/T1/pickup/confirm", "cashier", "", `{"code":"AB12CD"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/orders/T1/pickup/confirm", "cashier", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPlaceOrderOfflineIsAccepted(t *testing.T) {
	f := newFixture(t)
	f.store.SetOffline(true)

	payload := `{"client_id":"c1","order_type":"dine_in","items":[{"menu_item_id":"burger","quantity":2,"price_at_time":900}]}`
	resp, body := f.do(t, http.MethodPost, "/restaurants/r1/orders", "cashier", "", payload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["queued"])

	resp, body = f.do(t, http.MethodGet, "/restaurants/r1/orders", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["stale"])
	list := body["orders"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0].(map[string]any)["pending"])

	f.store.SetOffline(false)
	resp, _ = f.do(t, http.MethodPost, "/sync", "cashier", "", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, f.store.Count())

	resp, body = f.do(t, http.MethodPost, "/sync", "manager", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["synced"])
	assert.Equal(t, 1, f.store.Count())

	resp, _ = f.do(t, http.MethodGet, "/restaurants/r2/orders", "cashier", "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/restaurants/r1/orders", "cashier", "", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrderUsesViewCache(t *testing.T) {
	f := newFixture(t)
	seed(f, "O1", orders.TypeDineIn, orders.StatusPending, "burger")

	resp, body := f.do(t, http.MethodGet, "/orders/O1", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["order"].(map[string]any)["status"])
	require.True(t, f.cache.has("O1"))

	// a write drops the cached view
	resp, _ = f.do(t, http.MethodPost, "/orders/O1/departments/kitchen/start", "manager", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.cache.has("O1"))

	resp, body = f.do(t, http.MethodGet, "/orders/O1", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "preparing", body["order"].(map[string]any)["status"])

	// another restaurant's cached view is never served
	require.NoError(t, f.cache.Put(context.Background(), "X1", fulfillment.OrderView{Order: orders.Order{ID: "X1", RestaurantID: "r2"}}))
	resp, _ = f.do(t, http.MethodGet, "/orders/X1", "cashier", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrderSkipsCacheWithoutListener(t *testing.T) {
	f := newFixture(t)
	f.handler.ServeCached = false
	seed(f, "O1", orders.TypeDineIn, orders.StatusPending, "burger")

	resp, _ := f.do(t, http.MethodGet, "/orders/O1", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, f.cache.has("O1"))

	// written by another instance: nothing drops this instance's cached view
	preparing := orders.StatusPreparing
	require.NoError(t, f.store.UpdateOrder(context.Background(), "O1", orders.OrderUpdate{Status: &preparing}))
	require.True(t, f.cache.has("O1"))

	resp, body := f.do(t, http.MethodGet, "/orders/O1", "cashier", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "preparing", body["order"].(map[string]any)["status"])
}

func TestStreamDeliversRestaurantMessages(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/restaurants/r1/stream?restaurant_id=r1"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.Publish("r2", hub.MessageOrders, "other"))
	require.NoError(t, f.hub.Publish("r1", hub.MessageSync, map[string]string{"client_id": "c1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg hub.Message
	require.NoError(t, json.Unmarshal(b, &msg))
	assert.Equal(t, hub.MessageSync, msg.Type)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/restaurants/r1/stream?restaurant_id=r2", nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{orders.NewTransitionError(orders.ActionCancel, orders.Order{Status: orders.StatusCompleted}), http.StatusConflict},
		{orders.ErrPickupCodeMismatch, http.StatusConflict},
		{fmt.Errorf("read: %w", orders.ErrConnectivity), http.StatusServiceUnavailable},
		{&orders.UnverifiableError{Op: "x", Entity: "orders"}, http.StatusBadGateway},
		{orders.ErrForbidden, http.StatusForbidden},
		{orders.ErrOrderNotFound, http.StatusNotFound},
		{orders.ErrInvalidPayload, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), c.err.Error())
	}
}
