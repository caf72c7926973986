// Package ordertest provides an in-memory RemoteStore with fault injection for
// engine, syncer and listener tests.
package ordertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type subscriber struct {
	restaurantID string
	fn           func(orders.ChangeEvent)
}

type MemStore struct {
	mu        sync.Mutex
	orders    map[string]orders.Order
	items     map[string]orders.OrderItem
	itemOrder map[string][]string
	byClient  map[string]string
	orderIDs  []string
	seq       int
	subs      map[int]subscriber
	subSeq    int

	offline         bool
	hideItemReads   bool
	hideOrderReads  bool
	failAfterCreate int
	createCalls     int
	beforeItemWrite func()
	eventSeq        int

	Now func() time.Time
}

var _ orders.RemoteStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		orders:    map[string]orders.Order{},
		items:     map[string]orders.OrderItem{},
		itemOrder: map[string][]string{},
		byClient:  map[string]string{},
		subs:      map[int]subscriber{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetOffline makes every call fail with ErrConnectivity.
func (s *MemStore) SetOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

// HideItemReads makes ReadOrderItems return zero rows while writes still
// succeed, like a row-level policy that grants UPDATE but not SELECT.
func (s *MemStore) HideItemReads(v bool) {
	s.mu.Lock()
	s.hideItemReads = v
	s.mu.Unlock()
}

// HideOrderReads makes ReadOrder report ErrOrderNotFound after writes.
func (s *MemStore) HideOrderReads(v bool) {
	s.mu.Lock()
	s.hideOrderReads = v
	s.mu.Unlock()
}

// FailAfterCreate makes the next n CreateOrder calls commit the order and then
// report a lost response.
func (s *MemStore) FailAfterCreate(n int) {
	s.mu.Lock()
	s.failAfterCreate = n
	s.mu.Unlock()
}

// BeforeItemWrite runs fn at the start of every UpdateOrderItems call.
func (s *MemStore) BeforeItemWrite(fn func()) {
	s.mu.Lock()
	s.beforeItemWrite = fn
	s.mu.Unlock()
}

func (s *MemStore) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

// Seed stores an order and its items as-is, assigning ids where empty.
func (s *MemStore) Seed(o orders.Order, items []orders.OrderItem) (orders.Order, []orders.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		s.seq++
		o.ID = fmt.Sprintf("srv%d", s.seq)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.Now()
	}
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = o
	s.orderIDs = append(s.orderIDs, o.ID)
	if o.ClientID != "" {
		s.byClient[o.ClientID] = o.ID
	}
	out := make([]orders.OrderItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			s.seq++
			it.ID = fmt.Sprintf("item%d", s.seq)
		}
		it.OrderID = o.ID
		s.items[it.ID] = it
		s.itemOrder[o.ID] = append(s.itemOrder[o.ID], it.ID)
		out = append(out, it)
	}
	return o, out
}

// Snapshot reads an order bypassing every injected fault.
func (s *MemStore) Snapshot(orderID string) (orders.Order, []orders.OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID], s.itemsOf(orderID)
}

// Count returns how many orders the store holds.
func (s *MemStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *MemStore) itemsOf(orderID string) []orders.OrderItem {
	ids := s.itemOrder[orderID]
	out := make([]orders.OrderItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out
}

func (s *MemStore) CreateOrder(ctx context.Context, p orders.CreateOrderPayload, key string) (orders.Order, bool, error) {
	if key == "" {
		key = p.ClientID
	}
	p.ClientID = key
	if err := p.Validate(); err != nil {
		return orders.Order{}, false, err
	}

	s.mu.Lock()
	s.createCalls++
	if s.offline {
		s.mu.Unlock()
		return orders.Order{}, false, orders.ErrConnectivity
	}
	if id, ok := s.byClient[key]; ok {
		o := s.orders[id]
		s.mu.Unlock()
		return o, true, nil
	}

	now := s.Now()
	s.seq++
	o := orders.Order{
		ID:            fmt.Sprintf("srv%d", s.seq),
		ClientID:      key,
		RestaurantID:  p.RestaurantID,
		Status:        orders.StatusPending,
		Type:          p.Type,
		Paid:          p.Paid,
		TotalCents:    p.Total(),
		PickupCode:    p.PickupCode,
		CustomerName:  p.CustomerName,
		CustomerEmail: p.CustomerEmail,
		CustomerPhone: p.CustomerPhone,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     now,
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	s.orders[o.ID] = o
	s.orderIDs = append(s.orderIDs, o.ID)
	s.byClient[key] = o.ID
	var itemIDs []string
	for _, in := range p.Items {
		s.seq++
		it := orders.OrderItem{
			ID:         fmt.Sprintf("item%d", s.seq),
			OrderID:    o.ID,
			MenuItemID: in.MenuItemID,
			Quantity:   in.Quantity,
			PriceCents: in.PriceCents,
		}
		s.items[it.ID] = it
		s.itemOrder[o.ID] = append(s.itemOrder[o.ID], it.ID)
		itemIDs = append(itemIDs, it.ID)
	}
	lost := s.failAfterCreate > 0
	if lost {
		s.failAfterCreate--
	}
	s.mu.Unlock()

	s.emit(orders.ChangeEvent{Table: orders.TableOrders, Op: orders.OpInsert, RestaurantID: o.RestaurantID, OrderID: o.ID, RowIDs: []string{o.ID}})
	s.emit(orders.ChangeEvent{Table: orders.TableOrderItems, Op: orders.OpInsert, RestaurantID: o.RestaurantID, OrderID: o.ID, RowIDs: itemIDs})
	if lost {
		return orders.Order{}, false, fmt.Errorf("%w: response lost after commit", orders.ErrConnectivity)
	}
	return o, false, nil
}

func (s *MemStore) UpdateOrderItems(ctx context.Context, ids []string, f orders.ItemFields) error {
	s.mu.Lock()
	hook := s.beforeItemWrite
	offline := s.offline
	s.mu.Unlock()
	if offline {
		return orders.ErrConnectivity
	}
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	touched := map[string][]string{}
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		if f.PreparingStartedAt != nil && it.PreparingStartedAt == nil {
			t := *f.PreparingStartedAt
			it.PreparingStartedAt = &t
		}
		if f.MarkedReadyAt != nil && it.MarkedReadyAt == nil {
			t := *f.MarkedReadyAt
			it.MarkedReadyAt = &t
		}
		if f.DeliveredAt != nil && it.DeliveredAt == nil {
			t := *f.DeliveredAt
			it.DeliveredAt = &t
		}
		s.items[id] = it
		touched[it.OrderID] = append(touched[it.OrderID], id)
	}
	restaurants := map[string]string{}
	for orderID := range touched {
		restaurants[orderID] = s.orders[orderID].RestaurantID
	}
	s.mu.Unlock()

	for orderID, rowIDs := range touched {
		s.emit(orders.ChangeEvent{Table: orders.TableOrderItems, Op: orders.OpUpdate, RestaurantID: restaurants[orderID], OrderID: orderID, RowIDs: rowIDs})
	}
	return nil
}

func (s *MemStore) UpdateOrder(ctx context.Context, id string, upd orders.OrderUpdate) error {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return orders.ErrConnectivity
	}
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return orders.ErrOrderNotFound
	}
	if upd.ExpectStatus != "" && o.Status != upd.ExpectStatus {
		s.mu.Unlock()
		return orders.ErrStaleOrder
	}
	if upd.ExpectReadyForPickup != nil && o.ReadyForPickup != *upd.ExpectReadyForPickup {
		s.mu.Unlock()
		return orders.ErrStaleOrder
	}
	if upd.RequireNotPickedUp && o.PickedUpAt != nil {
		s.mu.Unlock()
		return orders.ErrStaleOrder
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.ReadyForPickup != nil {
		o.ReadyForPickup = *upd.ReadyForPickup
	}
	if upd.PickedUpAt != nil {
		t := *upd.PickedUpAt
		o.PickedUpAt = &t
	}
	o.UpdatedAt = s.Now()
	s.orders[id] = o
	s.mu.Unlock()

	s.emit(orders.ChangeEvent{Table: orders.TableOrders, Op: orders.OpUpdate, RestaurantID: o.RestaurantID, OrderID: id, RowIDs: []string{id}})
	return nil
}

func (s *MemStore) ReadOrder(ctx context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return orders.Order{}, orders.ErrConnectivity
	}
	o, ok := s.orders[id]
	if !ok || s.hideOrderReads {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *MemStore) ReadOrderItems(ctx context.Context, ids []string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, orders.ErrConnectivity
	}
	if s.hideItemReads {
		return nil, nil
	}
	var out []orders.OrderItem
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *MemStore) ListOrderItems(ctx context.Context, orderID string) ([]orders.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, orders.ErrConnectivity
	}
	return s.itemsOf(orderID), nil
}

func (s *MemStore) ListOrders(ctx context.Context, restaurantID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, orders.ErrConnectivity
	}
	var out []orders.Order
	for _, id := range s.orderIDs {
		if o := s.orders[id]; o.RestaurantID == restaurantID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return orders.ErrConnectivity
	}
	return nil
}

// Subscribers returns how many subscriptions are active.
func (s *MemStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscribe delivers change events for restaurantID until ctx is done.
func (s *MemStore) Subscribe(ctx context.Context, restaurantID string, fn func(orders.ChangeEvent)) error {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = subscriber{restaurantID: restaurantID, fn: fn}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) emit(ev orders.ChangeEvent) {
	s.mu.Lock()
	s.eventSeq++
	ev.EventID = fmt.Sprintf("ev%d", s.eventSeq)
	ev.OccurredAt = s.Now()
	var targets []func(orders.ChangeEvent)
	for _, sub := range s.subs {
		if sub.restaurantID == ev.RestaurantID {
			targets = append(targets, sub.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range targets {
		fn(ev)
	}
}
