package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/menu"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders/ordertest"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	block chan struct{}
	count atomic.Int32
}

func (r *recorder) refresh(ctx context.Context, ids []string) error {
	r.count.Add(1)
	r.mu.Lock()
	r.calls = append(r.calls, ids)
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func start(t *testing.T, l *Listener, store *ordertest.MemStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return store.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
}

func change(orderID string) orders.ChangeEvent {
	return orders.ChangeEvent{Table: orders.TableOrderItems, Op: orders.OpUpdate, RestaurantID: "r1", OrderID: orderID}
}

func TestBurstCollapsesIntoOneRefresh(t *testing.T) {
	store := ordertest.NewMemStore()
	rec := &recorder{}
	l := New("r1", store, rec.refresh, 50*time.Millisecond)
	start(t, l, store)

	l.Notify(change("O1"))
	l.Notify(change("O2"))
	l.Notify(change("O1"))

	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"O1", "O2"}, calls[0])
}

func TestChangeDuringRefreshSchedulesOneFollowUp(t *testing.T) {
	store := ordertest.NewMemStore()
	rec := &recorder{block: make(chan struct{})}
	l := New("r1", store, rec.refresh, 10*time.Millisecond)
	start(t, l, store)

	l.Notify(change("O1"))
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)

	// running: these must not start a second concurrent refresh
	l.Notify(change("O2"))
	l.Notify(change("O3"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), rec.count.Load())

	rec.mu.Lock()
	close(rec.block)
	rec.block = nil
	rec.mu.Unlock()

	require.Eventually(t, func() bool { return rec.count.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	calls := rec.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"O2", "O3"}, calls[1])
}

func TestIgnoresOtherScopes(t *testing.T) {
	store := ordertest.NewMemStore()
	rec := &recorder{}
	l := New("r1", store, rec.refresh, 10*time.Millisecond)
	start(t, l, store)

	l.Notify(orders.ChangeEvent{Table: orders.TableOrders, RestaurantID: "r2", OrderID: "X"})
	l.Notify(orders.ChangeEvent{Table: "menu_items", RestaurantID: "r1", OrderID: "X"})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count.Load())
}

func TestRowlessChangeRefreshesEverything(t *testing.T) {
	store := ordertest.NewMemStore()
	rec := &recorder{}
	l := New("r1", store, rec.refresh, 10*time.Millisecond)
	start(t, l, store)

	l.Notify(change("O1"))
	l.Notify(orders.ChangeEvent{Table: orders.TableOrders, Op: orders.OpDelete, RestaurantID: "r1"})
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, rec.snapshot()[0])
}

func TestRefreshNowJoinsInFlightRefresh(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	l := New("r1", nil, rec.refresh, 0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.RefreshNow(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(rec.block)
	wg.Wait()
	assert.Equal(t, int32(1), rec.count.Load())
}

func TestStoreWritesTriggerReconcile(t *testing.T) {
	store := ordertest.NewMemStore()
	at := time.Now().UTC()
	store.Seed(orders.Order{ID: "O1", RestaurantID: "r1", Type: orders.TypeDineIn, Status: orders.StatusPreparing},
		[]orders.OrderItem{{MenuItemID: "burger", Quantity: 1}})
	engine := fulfillment.New(store, menu.Static{"burger": orders.DeptKitchen}, nil)

	l := New("r1", store, func(ctx context.Context, ids []string) error {
		_, err := engine.Refresh(ctx, "r1", ids)
		return err
	}, 20*time.Millisecond)
	start(t, l, store)

	// an item write whose status follow-up never happened
	_, items := store.Snapshot("O1")
	require.NoError(t, store.UpdateOrderItems(context.Background(), []string{items[0].ID}, orders.ItemFields{MarkedReadyAt: &at}))

	require.Eventually(t, func() bool {
		o, _ := store.Snapshot("O1")
		return o.Status == orders.StatusReady
	}, time.Second, 10*time.Millisecond)
}
