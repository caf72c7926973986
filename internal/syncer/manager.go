// Package syncer promotes locally staged orders to the remote store and
// serves the merged view of synced and not-yet-synced orders.
package syncer

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/localqueue"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type Config struct {
	Interval      time.Duration
	ProbeInterval time.Duration
	PushTimeout   time.Duration
	RetryInitial  time.Duration
	RetryMax      time.Duration
	// RetryJitter is the backoff randomization factor, 0 for fixed delays.
	RetryJitter float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Second
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 10 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 2 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Minute
	}
	return c
}

type Manager struct {
	Store orders.RemoteStore
	Queue *localqueue.Queue
	Now   func() time.Time

	cfg     Config
	drainMu sync.Mutex
	trigger chan struct{}

	stateMu sync.Mutex
	online  bool

	subMu  sync.RWMutex
	subs   map[int]chan Event
	subSeq int
}

func New(store orders.RemoteStore, q *localqueue.Queue, cfg Config) *Manager {
	return &Manager{
		Store:   store,
		Queue:   q,
		cfg:     cfg.withDefaults(),
		trigger: make(chan struct{}, 1),
		subs:    make(map[int]chan Event),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

// Report summarizes one drain.
type Report struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Remaining int `json:"remaining"`
}

// Run drains on a timer, on every offline to online edge and on Trigger,
// until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	tick := time.NewTicker(m.cfg.Interval)
	defer tick.Stop()
	probe := time.NewTicker(m.cfg.ProbeInterval)
	defer probe.Stop()

	log.Printf("sync manager started interval=%s probe=%s", m.cfg.Interval, m.cfg.ProbeInterval)
	m.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			m.runDrain(ctx, false)
		case <-m.trigger:
			m.runDrain(ctx, false)
		case <-probe.C:
			// a reconnect retries everything, backoff or not
			if m.probe(ctx) {
				m.runDrain(ctx, true)
			}
		}
	}
}

func (m *Manager) runDrain(ctx context.Context, force bool) {
	rep, err := m.drain(ctx, force)
	if err != nil {
		log.Printf("sync drain: %v", err)
		return
	}
	if rep.Synced+rep.Failed > 0 {
		log.Printf("sync drain synced=%d failed=%d skipped=%d remaining=%d", rep.Synced, rep.Failed, rep.Skipped, rep.Remaining)
	}
}

// Trigger asks Run for a drain. Triggers that arrive while one is pending
// collapse into it.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// SyncNow drains once in the caller's goroutine, ignoring retry backoff.
func (m *Manager) SyncNow(ctx context.Context) (Report, error) {
	return m.drain(ctx, true)
}

func (m *Manager) Online() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.online
}

// setOnline records connectivity and reports an offline to online edge.
func (m *Manager) setOnline(v bool) bool {
	m.stateMu.Lock()
	prev := m.online
	m.online = v
	m.stateMu.Unlock()
	if prev != v {
		log.Printf("sync: remote store online=%t", v)
	}
	return v && !prev
}

func (m *Manager) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PushTimeout)
	defer cancel()
	return m.setOnline(m.Store.Ping(pctx) == nil)
}

// drain pushes queued entries one at a time in creation order. Only one drain
// runs at a time, so an entry is never in flight twice. A connectivity failure
// ends the drain; the remaining entries wait for the next trigger.
func (m *Manager) drain(ctx context.Context, force bool) (Report, error) {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	var rep Report
	entries, err := m.Queue.List(ctx, "")
	if err != nil {
		return rep, err
	}
	if len(entries) == 0 {
		return rep, nil
	}
	m.publish(Event{Type: orders.EventSyncStarted, Pending: len(entries)})

	now := m.now()
	for i, e := range entries {
		if ctx.Err() != nil {
			rep.Remaining += len(entries) - i
			break
		}
		if !force && !e.Due(now) {
			rep.Skipped++
			rep.Remaining++
			continue
		}
		err := m.push(ctx, e)
		if err == nil {
			rep.Synced++
			continue
		}
		rep.Failed++
		rep.Remaining++
		if errors.Is(err, orders.ErrConnectivity) {
			rep.Remaining += len(entries) - i - 1
			break
		}
	}
	return rep, nil
}

func (m *Manager) push(ctx context.Context, e localqueue.Entry) error {
	if err := m.Queue.MarkSyncing(ctx, e.ClientID); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PushTimeout)
	defer cancel()

	o, existed, err := m.Store.CreateOrder(pctx, e.Payload, e.ClientID)
	if err == nil {
		o, err = m.verify(pctx, e.ClientID, o)
	}
	if err != nil {
		m.fail(ctx, e, err)
		return err
	}
	m.setOnline(true)

	if err := m.Queue.Delete(ctx, e.ClientID); err != nil {
		// the next drain pushes it again and gets existed=true
		log.Printf("sync: delete %s after push: %v", e.ClientID, err)
	}
	m.publish(completeEvent(e.ClientID, o, existed))
	return nil
}

// verify re-reads a created order before the staged copy is dropped.
func (m *Manager) verify(ctx context.Context, clientID string, o orders.Order) (orders.Order, error) {
	v, err := m.Store.ReadOrder(ctx, o.ID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return o, &orders.UnverifiableError{Op: "create_order", Entity: orders.TableOrders, IDs: []string{o.ID}, Reason: "read-back returned no rows"}
	}
	if err != nil {
		return o, err
	}
	if v.ClientID != clientID {
		return o, &orders.UnverifiableError{Op: "create_order", Entity: orders.TableOrders, IDs: []string{o.ID}, Reason: "client id mismatch"}
	}
	return v, nil
}

func (m *Manager) fail(ctx context.Context, e localqueue.Entry, cause error) {
	if errors.Is(cause, orders.ErrConnectivity) {
		m.setOnline(false)
	}
	attempts := e.Attempts + 1
	next := m.now().Add(m.retryDelay(attempts))
	if err := m.Queue.MarkFailed(ctx, e.ClientID, cause.Error(), next); err != nil {
		log.Printf("sync: mark %s failed: %v", e.ClientID, err)
	}
	m.publish(Event{Type: orders.EventSyncFailed, ClientID: e.ClientID, Attempts: attempts, Reason: cause.Error()})
}

func (m *Manager) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInitial
	b.MaxInterval = m.cfg.RetryMax
	b.RandomizationFactor = m.cfg.RetryJitter
	b.Reset()
	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Placement is where a new order ended up: created remotely, or staged.
type Placement struct {
	Order  *orders.Order     `json:"order,omitempty"`
	Entry  *localqueue.Entry `json:"entry,omitempty"`
	Queued bool              `json:"queued"`
}

// PlaceOrder creates the order directly when the remote store answers and
// stages it otherwise. Losing connectivity is never a failure here.
func (m *Manager) PlaceOrder(ctx context.Context, p orders.CreateOrderPayload) (Placement, error) {
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	if p.Type == orders.TypeTakeaway && p.PickupCode == "" {
		code, err := NewPickupCode()
		if err != nil {
			return Placement{}, err
		}
		p.PickupCode = code
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	if err := p.Validate(); err != nil {
		return Placement{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.PushTimeout)
	o, _, err := m.Store.CreateOrder(pctx, p, p.ClientID)
	cancel()
	if err == nil {
		m.setOnline(true)
		return Placement{Order: &o}, nil
	}
	if !errors.Is(err, orders.ErrConnectivity) {
		return Placement{}, err
	}

	m.setOnline(false)
	e, _, err := m.Queue.Put(ctx, p)
	if err != nil {
		return Placement{}, fmt.Errorf("stage order %s: %w", p.ClientID, err)
	}
	log.Printf("order %s staged offline", p.ClientID)
	return Placement{Entry: &e, Queued: true}, nil
}

type ViewOrder struct {
	orders.Order
	// Pending marks an order that only exists in the local queue so far.
	Pending   bool             `json:"pending"`
	SyncState localqueue.State `json:"sync_state,omitempty"`
}

type View struct {
	Orders []ViewOrder `json:"orders"`
	// Stale is set when the remote store could not be read; only staged orders
	// are listed then.
	Stale bool `json:"stale"`
}

// MergedOrderView lists every logical order once: remote orders, then staged
// entries whose client id the remote store does not know yet.
func (m *Manager) MergedOrderView(ctx context.Context, restaurantID string) (View, error) {
	// queue first: an entry synced between the two reads then shows up remotely
	entries, err := m.Queue.List(ctx, restaurantID)
	if err != nil {
		return View{}, err
	}
	var view View
	remote, err := m.Store.ListOrders(ctx, restaurantID)
	switch {
	case errors.Is(err, orders.ErrConnectivity):
		view.Stale = true
	case err != nil:
		return View{}, err
	}

	known := make(map[string]bool, len(remote))
	for _, o := range remote {
		if o.ClientID != "" {
			known[o.ClientID] = true
		}
		view.Orders = append(view.Orders, ViewOrder{Order: o})
	}
	for _, e := range entries {
		if known[e.ClientID] {
			continue
		}
		view.Orders = append(view.Orders, ViewOrder{Order: stagedOrder(e), Pending: true, SyncState: e.State})
	}
	sort.SliceStable(view.Orders, func(i, j int) bool {
		return view.Orders[i].CreatedAt.Before(view.Orders[j].CreatedAt)
	})
	return view, nil
}

func stagedOrder(e localqueue.Entry) orders.Order {
	p := e.Payload
	return orders.Order{
		ClientID:      e.ClientID,
		RestaurantID:  e.RestaurantID,
		Status:        orders.StatusPending,
		Type:          p.Type,
		Paid:          p.Paid,
		TotalCents:    p.Total(),
		PickupCode:    p.PickupCode,
		CustomerName:  p.CustomerName,
		CustomerEmail: p.CustomerEmail,
		CustomerPhone: p.CustomerPhone,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     e.CreatedAt,
	}
}

const pickupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewPickupCode returns a six character code without look-alike characters.
func NewPickupCode() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = pickupAlphabet[int(b[i])%len(pickupAlphabet)]
	}
	return string(b), nil
}
