// Package listener turns push notifications about a restaurant's orders into
// delayed, coalesced re-fetches. Notification payloads are only hints.
package listener

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

const DefaultDelay = 300 * time.Millisecond

// Source delivers change events for one restaurant until ctx is done.
type Source interface {
	Subscribe(ctx context.Context, restaurantID string, fn func(orders.ChangeEvent)) error
}

// RefreshFunc re-reads the affected orders. A nil slice means the whole
// restaurant.
type RefreshFunc func(ctx context.Context, orderIDs []string) error

type state int

const (
	idle state = iota
	scheduled
	running
)

type Listener struct {
	RestaurantID string
	Source       Source
	Refresh      RefreshFunc
	Delay        time.Duration

	group singleflight.Group

	mu    sync.Mutex
	ctx   context.Context
	state state
	dirty bool
	ids   map[string]struct{}
	all   bool
	timer *time.Timer
}

func New(restaurantID string, src Source, refresh RefreshFunc, delay time.Duration) *Listener {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Listener{RestaurantID: restaurantID, Source: src, Refresh: refresh, Delay: delay}
}

// Run subscribes and blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	log.Printf("listener: subscribed restaurant=%s delay=%s", l.RestaurantID, l.Delay)

	err := l.Source.Subscribe(ctx, l.RestaurantID, l.Notify)

	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.state = idle
	l.mu.Unlock()
	return err
}

// Notify records a change. While a refresh is scheduled the change is
// absorbed by it; while one is running a single follow-up is scheduled.
func (l *Listener) Notify(ev orders.ChangeEvent) {
	if ev.RestaurantID != "" && ev.RestaurantID != l.RestaurantID {
		return
	}
	if ev.Table != orders.TableOrders && ev.Table != orders.TableOrderItems {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil || l.ctx.Err() != nil {
		return
	}
	if ev.OrderID == "" {
		l.all = true
	} else {
		if l.ids == nil {
			l.ids = make(map[string]struct{})
		}
		l.ids[ev.OrderID] = struct{}{}
	}
	switch l.state {
	case idle:
		l.schedule()
	case running:
		l.dirty = true
	}
}

// schedule must be called with mu held.
func (l *Listener) schedule() {
	l.state = scheduled
	l.timer = time.AfterFunc(l.Delay, l.fire)
}

func (l *Listener) fire() {
	l.mu.Lock()
	ctx := l.ctx
	ids, all := l.take()
	l.state = running
	l.mu.Unlock()

	if err := l.do(ctx, ids, all); err != nil {
		log.Printf("listener: refresh restaurant=%s: %v", l.RestaurantID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dirty && ctx.Err() == nil {
		l.dirty = false
		l.schedule()
		return
	}
	l.dirty = false
	l.state = idle
}

// take must be called with mu held.
func (l *Listener) take() ([]string, bool) {
	all := l.all
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	l.ids = nil
	l.all = false
	return ids, all
}

// RefreshNow re-reads everything right away. It joins an identical refresh
// that is already in flight instead of starting a second one.
func (l *Listener) RefreshNow(ctx context.Context) error {
	return l.do(ctx, nil, true)
}

func (l *Listener) do(ctx context.Context, ids []string, all bool) error {
	key := l.RestaurantID + "/*"
	if all {
		ids = nil
	} else {
		key = l.RestaurantID + "/" + strings.Join(ids, ",")
	}
	_, err, _ := l.group.Do(key, func() (any, error) {
		return nil, l.Refresh(ctx, ids)
	})
	return err
}
