// Package fulfillment drives an order through preparation, readiness and
// handover. Every write goes to the shared remote store and is read back
// before the engine reports success.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/menu"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/notify"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

const DefaultTimeout = 10 * time.Second

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNoEligibleItems Outcome = "no_eligible_items"
)

// Result of a mutating operation. Items holds the rows this call stamped, as
// read back from the store.
type Result struct {
	Outcome       Outcome            `json:"outcome"`
	Order         orders.Order       `json:"order"`
	Items         []orders.OrderItem `json:"items,omitempty"`
	StatusChanged bool               `json:"status_changed"`
	Notification  *notify.Result     `json:"notification,omitempty"`
}

type OrderView struct {
	Order       orders.Order             `json:"order"`
	Departments []orders.DepartmentState `json:"departments"`
	FullyReady  bool                     `json:"fully_ready"`
}

type Notifier interface {
	Notify(ctx context.Context, o orders.Order) notify.Result
}

type Engine struct {
	Store    orders.RemoteStore
	Menu     menu.Directory
	Notifier Notifier
	Timeout  time.Duration
	Now      func() time.Time
}

func New(store orders.RemoteStore, dir menu.Directory, n Notifier) *Engine {
	return &Engine{Store: store, Menu: dir, Notifier: n, Timeout: DefaultTimeout}
}

var tracer = otel.Tracer("github.com/ariefcatur/go-realtime-fulfillment/internal/fulfillment")

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) begin(ctx context.Context, op, orderID string) (context.Context, func(error)) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	ctx, span := tracer.Start(ctx, "fulfillment."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		cancel()
	}
}

func (e *Engine) StartDepartmentPreparation(ctx context.Context, actor Actor, orderID string, dept orders.Department) (res Result, err error) {
	ctx, end := e.begin(ctx, "StartDepartmentPreparation", orderID)
	defer func() { end(err) }()
	return e.departmentOp(ctx, actor, orderID, dept, orders.ActionStartDepartment)
}

func (e *Engine) MarkDepartmentReady(ctx context.Context, actor Actor, orderID string, dept orders.Department) (res Result, err error) {
	ctx, end := e.begin(ctx, "MarkDepartmentReady", orderID)
	defer func() { end(err) }()
	return e.departmentOp(ctx, actor, orderID, dept, orders.ActionMarkDepartmentReady)
}

// MarkDepartmentDelivered stamps delivered_at on the department's items that
// are ready but not yet delivered. Order status is not touched.
func (e *Engine) MarkDepartmentDelivered(ctx context.Context, actor Actor, orderID string, dept orders.Department) (res Result, err error) {
	ctx, end := e.begin(ctx, "MarkDepartmentDelivered", orderID)
	defer func() { end(err) }()
	return e.departmentOp(ctx, actor, orderID, dept, orders.ActionMarkDelivered)
}

func (e *Engine) DepartmentStatus(ctx context.Context, actor Actor, orderID string) (view OrderView, err error) {
	ctx, end := e.begin(ctx, "DepartmentStatus", orderID)
	defer func() { end(err) }()

	o, err := e.loadOrder(ctx, actor, orderID)
	if err != nil {
		return OrderView{}, err
	}
	items, err := e.Store.ListOrderItems(ctx, o.ID)
	if err != nil {
		return OrderView{}, err
	}
	depts, err := e.departments(ctx, items)
	if err != nil {
		return OrderView{}, err
	}
	return OrderView{Order: o, Departments: orders.SortedDepartments(depts), FullyReady: orders.OrderIsFullyReady(items)}, nil
}

func (e *Engine) departmentOp(ctx context.Context, actor Actor, orderID string, dept orders.Department, action orders.Action) (Result, error) {
	if !dept.Valid() {
		return Result{}, fmt.Errorf("%q: %w", dept, orders.ErrUnknownDepartment)
	}
	if !actor.Allowed(action, dept) {
		return Result{}, orders.ErrForbidden
	}
	o, err := e.loadOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.Finalized() || !orders.ValidAction(action, o.Status) {
		return Result{Order: o}, orders.NewTransitionError(action, o)
	}

	// 1) select what still lacks the timestamp
	items, err := e.Store.ListOrderItems(ctx, o.ID)
	if err != nil {
		return Result{Order: o}, err
	}
	depts, err := e.departments(ctx, items)
	if err != nil {
		return Result{Order: o}, err
	}
	ids := eligible(action, depts[dept].Items)
	if len(ids) == 0 {
		return Result{Outcome: OutcomeNoEligibleItems, Order: o}, nil
	}

	// 2) one batch write, then read it back
	if err := e.Store.UpdateOrderItems(ctx, ids, fieldsFor(action, e.now())); err != nil {
		return Result{Order: o}, err
	}
	written, err := e.verifyItems(ctx, action, ids)
	if err != nil {
		return Result{Order: o}, err
	}
	res := Result{Outcome: OutcomeApplied, Order: o, Items: written}

	// 3) move the order forward if the items allow it
	var to orders.Status
	switch action {
	case orders.ActionStartDepartment:
		if o.Status == orders.StatusPending {
			to = orders.StatusPreparing
		}
	case orders.ActionMarkDepartmentReady:
		all, err := e.Store.ListOrderItems(ctx, o.ID)
		if err != nil {
			return res, err
		}
		switch {
		case orders.OrderIsFullyReady(all) && o.Status != orders.StatusReady:
			to = orders.StatusReady
		case o.Status == orders.StatusPending:
			to = orders.StatusPreparing
		}
	}
	if to == "" {
		return res, nil
	}
	res.Order, res.StatusChanged, err = e.advance(ctx, action, o, to)
	return res, err
}

func eligible(action orders.Action, items []orders.OrderItem) []string {
	var ids []string
	for _, it := range items {
		switch action {
		case orders.ActionStartDepartment:
			if it.PreparingStartedAt == nil {
				ids = append(ids, it.ID)
			}
		case orders.ActionMarkDepartmentReady:
			if it.MarkedReadyAt == nil {
				ids = append(ids, it.ID)
			}
		case orders.ActionMarkDelivered:
			if it.MarkedReadyAt != nil && it.DeliveredAt == nil {
				ids = append(ids, it.ID)
			}
		}
	}
	return ids
}

func fieldsFor(action orders.Action, now time.Time) orders.ItemFields {
	switch action {
	case orders.ActionStartDepartment:
		return orders.ItemFields{PreparingStartedAt: &now}
	case orders.ActionMarkDepartmentReady:
		return orders.ItemFields{MarkedReadyAt: &now}
	default:
		return orders.ItemFields{DeliveredAt: &now}
	}
}

func stamped(action orders.Action, it orders.OrderItem) bool {
	switch action {
	case orders.ActionStartDepartment:
		return it.PreparingStartedAt != nil
	case orders.ActionMarkDepartmentReady:
		return it.MarkedReadyAt != nil
	default:
		return it.DeliveredAt != nil
	}
}

// verifyItems re-reads ids and fails unless every row is visible and carries
// the timestamp. A concurrent writer may have set it first; that still counts.
func (e *Engine) verifyItems(ctx context.Context, action orders.Action, ids []string) ([]orders.OrderItem, error) {
	got, err := e.Store.ReadOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(got) == 0 {
		return nil, &orders.UnverifiableError{Op: string(action), Entity: orders.TableOrderItems, IDs: ids, Reason: "read-back returned no rows"}
	}
	byID := make(map[string]orders.OrderItem, len(got))
	for _, it := range got {
		byID[it.ID] = it
	}
	out := make([]orders.OrderItem, 0, len(ids))
	var missing []string
	for _, id := range ids {
		it, ok := byID[id]
		if !ok || !stamped(action, it) {
			missing = append(missing, id)
			continue
		}
		out = append(out, it)
	}
	if len(missing) > 0 {
		return nil, &orders.UnverifiableError{Op: string(action), Entity: orders.TableOrderItems, IDs: missing, Reason: "written timestamp not visible"}
	}
	return out, nil
}

func (e *Engine) verifyOrder(ctx context.Context, action orders.Action, id string, ok func(orders.Order) bool) (orders.Order, error) {
	o, err := e.Store.ReadOrder(ctx, id)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return orders.Order{}, &orders.UnverifiableError{Op: string(action), Entity: orders.TableOrders, IDs: []string{id}, Reason: "read-back returned no rows"}
	}
	if err != nil {
		return orders.Order{}, err
	}
	if !ok(o) {
		return o, &orders.UnverifiableError{Op: string(action), Entity: orders.TableOrders, IDs: []string{id}, Reason: "written fields not visible"}
	}
	return o, nil
}

// reached reports whether status already satisfies a move to target. An order
// that is ready has implicitly passed preparing.
func reached(status, target orders.Status) bool {
	return status == target || (target == orders.StatusPreparing && status == orders.StatusReady)
}

// advance writes o.Status -> to guarded on the status it was read with. When
// another client moved the order first, the fresh row decides: already there
// is a no-op, still legal is retried once, anything else is a transition error.
func (e *Engine) advance(ctx context.Context, action orders.Action, o orders.Order, to orders.Status) (orders.Order, bool, error) {
	for attempt := 0; ; attempt++ {
		if reached(o.Status, to) {
			return o, false, nil
		}
		if o.Finalized() || !orders.CanTransition(o.Status, to) {
			return o, false, orders.NewTransitionError(action, o)
		}
		if attempt == 2 {
			return o, false, orders.ErrStaleOrder
		}
		err := e.Store.UpdateOrder(ctx, o.ID, orders.OrderUpdate{
			ExpectStatus:       o.Status,
			RequireNotPickedUp: true,
			Status:             &to,
		})
		if err == nil {
			v, err := e.verifyOrder(ctx, action, o.ID, func(v orders.Order) bool { return reached(v.Status, to) })
			if err != nil {
				return o, false, err
			}
			return v, true, nil
		}
		if !errors.Is(err, orders.ErrStaleOrder) {
			return o, false, err
		}
		if o, err = e.Store.ReadOrder(ctx, o.ID); err != nil {
			return o, false, err
		}
	}
}

func (e *Engine) CompleteOrder(ctx context.Context, actor Actor, orderID string) (res Result, err error) {
	ctx, end := e.begin(ctx, "CompleteOrder", orderID)
	defer func() { end(err) }()
	return e.finish(ctx, actor, orderID, orders.ActionComplete, orders.StatusCompleted)
}

func (e *Engine) CancelOrder(ctx context.Context, actor Actor, orderID string) (res Result, err error) {
	ctx, end := e.begin(ctx, "CancelOrder", orderID)
	defer func() { end(err) }()
	return e.finish(ctx, actor, orderID, orders.ActionCancel, orders.StatusCancelled)
}

func (e *Engine) finish(ctx context.Context, actor Actor, orderID string, action orders.Action, to orders.Status) (Result, error) {
	if !actor.Allowed(action, "") {
		return Result{}, orders.ErrForbidden
	}
	o, err := e.loadOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}
	// takeaway orders finish through pickup confirmation instead
	if o.Finalized() || !orders.ValidAction(action, o.Status) || (action == orders.ActionComplete && o.Type == orders.TypeTakeaway) {
		return Result{Order: o}, orders.NewTransitionError(action, o)
	}
	o, changed, err := e.advance(ctx, action, o, to)
	if err != nil {
		return Result{Order: o}, err
	}
	return Result{Outcome: OutcomeApplied, Order: o, StatusChanged: changed}, nil
}

// MarkReadyForPickup flags a ready takeaway order and attempts one customer
// notification. The notification outcome is reported, never retried.
func (e *Engine) MarkReadyForPickup(ctx context.Context, actor Actor, orderID string) (res Result, err error) {
	ctx, end := e.begin(ctx, "MarkReadyForPickup", orderID)
	defer func() { end(err) }()

	if !actor.Allowed(orders.ActionMarkReadyForPickup, "") {
		return Result{}, orders.ErrForbidden
	}
	o, err := e.loadOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.PickedUpAt != nil {
		return Result{Order: o}, orders.ErrAlreadyPickedUp
	}
	if o.Type != orders.TypeTakeaway || o.Status != orders.StatusReady || o.ReadyForPickup {
		return Result{Order: o}, orders.NewTransitionError(orders.ActionMarkReadyForPickup, o)
	}

	yes, no := true, false
	err = e.Store.UpdateOrder(ctx, o.ID, orders.OrderUpdate{
		ExpectStatus:         orders.StatusReady,
		ExpectReadyForPickup: &no,
		RequireNotPickedUp:   true,
		ReadyForPickup:       &yes,
	})
	if errors.Is(err, orders.ErrStaleOrder) {
		fresh, rerr := e.Store.ReadOrder(ctx, o.ID)
		if rerr != nil {
			return Result{Order: o}, rerr
		}
		if fresh.PickedUpAt != nil {
			return Result{Order: fresh}, orders.ErrAlreadyPickedUp
		}
		return Result{Order: fresh}, orders.NewTransitionError(orders.ActionMarkReadyForPickup, fresh)
	}
	if err != nil {
		return Result{Order: o}, err
	}
	o, err = e.verifyOrder(ctx, orders.ActionMarkReadyForPickup, o.ID, func(v orders.Order) bool { return v.ReadyForPickup })
	if err != nil {
		return Result{Order: o}, err
	}

	res = Result{Outcome: OutcomeApplied, Order: o}
	if e.Notifier != nil {
		n := e.Notifier.Notify(ctx, o)
		if !n.Sent {
			log.Printf("pickup notification order=%s not sent: %s", o.ID, n.Error)
		}
		res.Notification = &n
	}
	return res, nil
}

// ConfirmPickup hands the order over. code is optional; when given it must
// match the order's pickup code.
func (e *Engine) ConfirmPickup(ctx context.Context, actor Actor, orderID, code string) (res Result, err error) {
	ctx, end := e.begin(ctx, "ConfirmPickup", orderID)
	defer func() { end(err) }()

	if !actor.Allowed(orders.ActionConfirmPickup, "") {
		return Result{}, orders.ErrForbidden
	}
	o, err := e.loadOrder(ctx, actor, orderID)
	if err != nil {
		return Result{}, err
	}
	if err := pickupGuard(o); err != nil {
		return Result{Order: o}, err
	}
	if code != "" && code != o.PickupCode {
		return Result{Order: o}, orders.ErrPickupCodeMismatch
	}

	yes := true
	now := e.now()
	err = e.Store.UpdateOrder(ctx, o.ID, orders.OrderUpdate{
		ExpectReadyForPickup: &yes,
		RequireNotPickedUp:   true,
		PickedUpAt:           &now,
	})
	if errors.Is(err, orders.ErrStaleOrder) {
		fresh, rerr := e.Store.ReadOrder(ctx, o.ID)
		if rerr != nil {
			return Result{Order: o}, rerr
		}
		if gerr := pickupGuard(fresh); gerr != nil {
			return Result{Order: fresh}, gerr
		}
		return Result{Order: fresh}, orders.ErrStaleOrder
	}
	if err != nil {
		return Result{Order: o}, err
	}
	o, err = e.verifyOrder(ctx, orders.ActionConfirmPickup, o.ID, func(v orders.Order) bool { return v.PickedUpAt != nil })
	if err != nil {
		return Result{Order: o}, err
	}
	return Result{Outcome: OutcomeApplied, Order: o}, nil
}

func pickupGuard(o orders.Order) error {
	switch {
	case o.PickedUpAt != nil:
		return orders.ErrAlreadyPickedUp
	case o.Type != orders.TypeTakeaway || o.Status.Terminal():
		return orders.NewTransitionError(orders.ActionConfirmPickup, o)
	case !o.ReadyForPickup:
		return orders.ErrNotReadyForPickup
	}
	return nil
}

// ReconcileReadiness repairs an order whose items are all ready while its
// status write never landed. It is run after change notifications and needs
// no actor.
func (e *Engine) ReconcileReadiness(ctx context.Context, orderID string) (changed bool, err error) {
	ctx, end := e.begin(ctx, "ReconcileReadiness", orderID)
	defer func() { end(err) }()

	o, err := e.Store.ReadOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Finalized() || o.Status == orders.StatusReady {
		return false, nil
	}
	items, err := e.Store.ListOrderItems(ctx, o.ID)
	if err != nil {
		return false, err
	}
	if !orders.OrderIsFullyReady(items) {
		return false, nil
	}
	_, changed, err = e.advance(ctx, orders.ActionMarkDepartmentReady, o, orders.StatusReady)
	if err != nil {
		return false, err
	}
	if changed {
		log.Printf("reconciled order=%s to ready", o.ID)
	}
	return changed, nil
}

func (e *Engine) loadOrder(ctx context.Context, actor Actor, orderID string) (orders.Order, error) {
	if actor.RestaurantID == "" {
		return orders.Order{}, orders.ErrForbidden
	}
	o, err := e.Store.ReadOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if o.RestaurantID != actor.RestaurantID {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

// departments resolves each distinct menu item once and groups the items.
// Items whose menu entry is gone are grouped as unassigned.
func (e *Engine) departments(ctx context.Context, items []orders.OrderItem) (map[orders.Department]orders.DepartmentState, error) {
	known := make(map[string]orders.Department, len(items))
	for _, it := range items {
		if _, ok := known[it.MenuItemID]; ok {
			continue
		}
		d, err := e.Menu.LookupDepartment(ctx, it.MenuItemID)
		if errors.Is(err, menu.ErrMenuItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		known[it.MenuItemID] = d
	}
	return orders.Aggregate(items, func(id string) (orders.Department, bool) {
		d, ok := known[id]
		return d, ok
	}), nil
}

// Refresh re-reads orders of one restaurant after a change notification,
// repairs lost ready transitions and returns the fresh views. Nil ids means
// every open order of the restaurant. Orders that vanished are skipped. A
// failure on one order is logged and the rest are still refreshed; the
// failures come back joined. Losing the store ends the pass.
func (e *Engine) Refresh(ctx context.Context, restaurantID string, ids []string) ([]OrderView, error) {
	if ids == nil {
		list, err := e.Store.ListOrders(ctx, restaurantID)
		if err != nil {
			return nil, err
		}
		for _, o := range list {
			if !o.Finalized() {
				ids = append(ids, o.ID)
			}
		}
	}

	views := make([]OrderView, 0, len(ids))
	var errs []error
	for _, id := range ids {
		v, err := e.refreshOne(ctx, restaurantID, id)
		if errors.Is(err, orders.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			if errors.Is(err, orders.ErrConnectivity) || ctx.Err() != nil {
				return views, errors.Join(append(errs, err)...)
			}
			log.Printf("refresh restaurant=%s order=%s: %v", restaurantID, id, err)
			errs = append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		views = append(views, v)
	}
	return views, errors.Join(errs...)
}

func (e *Engine) refreshOne(ctx context.Context, restaurantID, id string) (OrderView, error) {
	actor := Actor{RestaurantID: restaurantID, Role: RoleManager}
	v, err := e.DepartmentStatus(ctx, actor, id)
	if err != nil {
		return OrderView{}, err
	}
	if v.FullyReady && v.Order.Status != orders.StatusReady && !v.Order.Finalized() {
		changed, err := e.ReconcileReadiness(ctx, id)
		if err != nil {
			return v, err
		}
		if changed {
			return e.DepartmentStatus(ctx, actor, id)
		}
	}
	return v, nil
}
