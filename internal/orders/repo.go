package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres implementation of RemoteStore. When Changes is set,
// every committed write is announced on it.
type Repo struct {
	DB      *pgxpool.Pool
	Changes ChangePublisher
}

var _ RemoteStore = (*Repo)(nil)

const orderColumns = `id, COALESCE(client_id, ''), restaurant_id, status, order_type, paid, total_cents,
	COALESCE(pickup_code, ''), ready_for_pickup, picked_up_at, COALESCE(customer_name, ''),
	COALESCE(customer_email, ''), COALESCE(customer_phone, ''), created_at, updated_at`

const itemColumns = `id, order_id, menu_item_id, quantity, price_cents,
	preparing_started_at, marked_ready_at, delivered_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (Order, error) {
	var o Order
	var status, typ string
	err := row.Scan(&o.ID, &o.ClientID, &o.RestaurantID, &status, &typ, &o.Paid, &o.TotalCents,
		&o.PickupCode, &o.ReadyForPickup, &o.PickedUpAt, &o.CustomerName,
		&o.CustomerEmail, &o.CustomerPhone, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Type = OrderType(typ)
	return o, nil
}

func scanItem(row scanner) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.PriceCents,
		&it.PreparingStartedAt, &it.MarkedReadyAt, &it.DeliveredAt)
	return it, err
}

// CreateOrder: idempotent via client_id.
// - when client_id already exists -> return the stored order (existed=true).
func (r *Repo) CreateOrder(ctx context.Context, p CreateOrderPayload, idempotencyKey string) (Order, bool, error) {
	if idempotencyKey == "" {
		idempotencyKey = p.ClientID
	}
	p.ClientID = idempotencyKey
	if err := p.Validate(); err != nil {
		return Order{}, false, err
	}

	if o, err := r.orderByClientID(ctx, idempotencyKey); err == nil {
		return o, true, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return Order{}, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	o := Order{
		ID:            uuid.NewString(),
		ClientID:      p.ClientID,
		RestaurantID:  p.RestaurantID,
		Status:        StatusPending,
		Type:          p.Type,
		Paid:          p.Paid,
		TotalCents:    p.Total(),
		PickupCode:    p.PickupCode,
		CustomerName:  p.CustomerName,
		CustomerEmail: p.CustomerEmail,
		CustomerPhone: p.CustomerPhone,
		CreatedAt:     created,
		UpdatedAt:     now,
	}

	var inserted string
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, client_id, restaurant_id, status, order_type, paid, total_cents, pickup_code,
		                   customer_name, customer_email, customer_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13)
		ON CONFLICT (client_id) DO NOTHING
		RETURNING id
	`, o.ID, o.ClientID, o.RestaurantID, string(o.Status), string(o.Type), o.Paid, o.TotalCents, o.PickupCode,
		o.CustomerName, o.CustomerEmail, o.CustomerPhone, o.CreatedAt, o.UpdatedAt).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// a concurrent push with the same key committed first
		_ = tx.Rollback(ctx)
		existing, err := r.orderByClientID(ctx, idempotencyKey)
		if err != nil {
			return Order{}, false, err
		}
		return existing, true, nil
	}
	if err != nil {
		return Order{}, false, classify(err)
	}

	itemIDs := make([]string, 0, len(p.Items))
	for i, it := range p.Items {
		id := uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, position, menu_item_id, quantity, price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, o.ID, i, it.MenuItemID, it.Quantity, it.PriceCents,
		); err != nil {
			return Order{}, false, classify(err)
		}
		itemIDs = append(itemIDs, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, classify(err)
	}

	r.publish(ctx, ChangeEvent{Table: TableOrders, Op: OpInsert, RestaurantID: o.RestaurantID, OrderID: o.ID, RowIDs: []string{o.ID}})
	r.publish(ctx, ChangeEvent{Table: TableOrderItems, Op: OpInsert, RestaurantID: o.RestaurantID, OrderID: o.ID, RowIDs: itemIDs})
	return o, false, nil
}

func (r *Repo) orderByClientID(ctx context.Context, clientID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_id=$1`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, classify(err)
}

// UpdateOrderItems stamps the given timestamps. COALESCE keeps a timestamp that
// is already set, so a late duplicate write changes nothing.
func (r *Repo) UpdateOrderItems(ctx context.Context, ids []string, f ItemFields) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.DB.Query(ctx, `
		UPDATE order_items oi SET
			preparing_started_at = COALESCE(oi.preparing_started_at, $2),
			marked_ready_at      = COALESCE(oi.marked_ready_at, $3),
			delivered_at         = COALESCE(oi.delivered_at, $4)
		FROM orders o
		WHERE o.id = oi.order_id AND oi.id = ANY($1)
		RETURNING oi.id, oi.order_id, o.restaurant_id
	`, ids, f.PreparingStartedAt, f.MarkedReadyAt, f.DeliveredAt)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	type touched struct {
		restaurantID string
		rowIDs       []string
	}
	byOrder := map[string]*touched{}
	for rows.Next() {
		var id, orderID, restaurantID string
		if err := rows.Scan(&id, &orderID, &restaurantID); err != nil {
			return err
		}
		t, ok := byOrder[orderID]
		if !ok {
			t = &touched{restaurantID: restaurantID}
			byOrder[orderID] = t
		}
		t.rowIDs = append(t.rowIDs, id)
	}
	if err := rows.Err(); err != nil {
		return classify(err)
	}
	for orderID, t := range byOrder {
		r.publish(ctx, ChangeEvent{Table: TableOrderItems, Op: OpUpdate, RestaurantID: t.restaurantID, OrderID: orderID, RowIDs: t.rowIDs})
	}
	return nil
}

func (r *Repo) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error {
	args := []any{id}
	sets := []string{"updated_at = now()"}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.ReadyForPickup != nil {
		set("ready_for_pickup", *upd.ReadyForPickup)
	}
	if upd.PickedUpAt != nil {
		set("picked_up_at", *upd.PickedUpAt)
	}

	where := "id = $1"
	if upd.ExpectStatus != "" {
		args = append(args, string(upd.ExpectStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if upd.ExpectReadyForPickup != nil {
		args = append(args, *upd.ExpectReadyForPickup)
		where += fmt.Sprintf(" AND ready_for_pickup = $%d", len(args))
	}
	if upd.RequireNotPickedUp {
		where += " AND picked_up_at IS NULL"
	}

	var restaurantID string
	err := r.DB.QueryRow(ctx, `UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE `+where+` RETURNING restaurant_id`, args...).Scan(&restaurantID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
			return classify(err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStaleOrder
	}
	if err != nil {
		return classify(err)
	}
	r.publish(ctx, ChangeEvent{Table: TableOrders, Op: OpUpdate, RestaurantID: restaurantID, OrderID: id, RowIDs: []string{id}})
	return nil
}

func (r *Repo) ReadOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, classify(err)
}

func (r *Repo) ReadOrderItems(ctx context.Context, ids []string) ([]OrderItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id = ANY($1) ORDER BY order_id, position`, ids)
}

func (r *Repo) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id=$1 ORDER BY position`, orderID)
}

func (r *Repo) queryItems(ctx context.Context, q string, arg any) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, q, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, classify(rows.Err())
}

func (r *Repo) ListOrders(ctx context.Context, restaurantID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE restaurant_id=$1 ORDER BY created_at, id`, restaurantID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, classify(rows.Err())
}

func (r *Repo) Ping(ctx context.Context) error {
	return classify(r.DB.Ping(ctx))
}

func (r *Repo) publish(ctx context.Context, ev ChangeEvent) {
	if r.Changes == nil {
		return
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := r.Changes.PublishChange(ctx, ev); err != nil {
		log.Printf("publish change table=%s order=%s: %v", ev.Table, ev.OrderID, err)
	}
}

// classify marks network-level failures with ErrConnectivity so callers can
// fall back to offline behaviour.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return err
}
