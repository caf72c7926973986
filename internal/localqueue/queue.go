// Package localqueue stages orders taken while the remote store is out of
// reach. Entries live in a SQLite file on the device and survive restarts.
package localqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

//go:embed schema.sql
var schemaSQL string

var ErrNotFound = errors.New("queue entry not found")

type State string

const (
	StateQueued  State = "queued"
	StateSyncing State = "syncing"
	StateFailed  State = "failed"
)

// Entry is one staged order. Failed entries stay in the queue and are picked
// up again by the next drain.
type Entry struct {
	Seq           int64                     `json:"seq" yaml:"seq"`
	ClientID      string                    `json:"client_id" yaml:"client_id"`
	RestaurantID  string                    `json:"restaurant_id" yaml:"restaurant_id"`
	Payload       orders.CreateOrderPayload `json:"payload" yaml:"payload"`
	State         State                     `json:"sync_state" yaml:"sync_state"`
	Attempts      int                       `json:"attempts" yaml:"attempts"`
	LastError     string                    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NextAttemptAt *time.Time                `json:"next_attempt_at,omitempty" yaml:"next_attempt_at,omitempty"`
	CreatedAt     time.Time                 `json:"created_at" yaml:"created_at"`
}

// Due reports whether the entry may be pushed at now.
func (e Entry) Due(now time.Time) bool {
	return e.NextAttemptAt == nil || !now.Before(*e.NextAttemptAt)
}

type Queue struct {
	db  *sql.DB
	Now func() time.Time
}

// Open creates or opens the queue file. Entries a crashed process left in
// syncing are put back to queued; the store's idempotency key makes pushing
// them again safe.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect queue: %w", err)
	}
	// one writer; avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	res, err := db.Exec(`UPDATE sync_queue SET sync_state = 'queued' WHERE sync_state = 'syncing'`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recover syncing entries: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("queue: recovered %d interrupted entries", n)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

// Put stages payload under its client id. Putting the same client id twice
// keeps the first entry; created reports which happened.
func (q *Queue) Put(ctx context.Context, p orders.CreateOrderPayload) (e Entry, created bool, err error) {
	if p.ClientID == "" {
		return Entry{}, false, orders.ErrInvalidPayload
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Entry{}, false, err
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (client_id, restaurant_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id) DO NOTHING`,
		p.ClientID, p.RestaurantID, string(body), q.now().Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, false, fmt.Errorf("put %s: %w", p.ClientID, err)
	}
	n, _ := res.RowsAffected()
	e, err = q.Get(ctx, p.ClientID)
	return e, n == 1, err
}

func (q *Queue) Get(ctx context.Context, clientID string) (Entry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT seq, client_id, restaurant_id, payload, sync_state, attempts, last_error, next_attempt_at, created_at
		FROM sync_queue WHERE client_id = ?`, clientID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", clientID, ErrNotFound)
	}
	return e, err
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (q *Queue) Delete(ctx context.Context, clientID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", clientID, err)
	}
	return nil
}

// List returns entries in creation order; an empty restaurantID lists all.
func (q *Queue) List(ctx context.Context, restaurantID string) ([]Entry, error) {
	query := `
		SELECT seq, client_id, restaurant_id, payload, sync_state, attempts, last_error, next_attempt_at, created_at
		FROM sync_queue`
	var args []any
	if restaurantID != "" {
		query += ` WHERE restaurant_id = ?`
		args = append(args, restaurantID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

func (q *Queue) MarkSyncing(ctx context.Context, clientID string) error {
	return q.setState(ctx, clientID, `UPDATE sync_queue SET sync_state = 'syncing' WHERE client_id = ?`, clientID)
}

// MarkFailed records a failed push and when the entry may be tried again.
func (q *Queue) MarkFailed(ctx context.Context, clientID, reason string, next time.Time) error {
	return q.setState(ctx, clientID, `
		UPDATE sync_queue
		SET sync_state = 'failed', attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE client_id = ?`,
		reason, next.UTC().Format(time.RFC3339Nano), clientID)
}

func (q *Queue) setState(ctx context.Context, clientID, stmt string, args ...any) error {
	res, err := q.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", clientID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", clientID, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e         Entry
		payload   string
		state     string
		next      sql.NullString
		createdAt string
	)
	if err := s.Scan(&e.Seq, &e.ClientID, &e.RestaurantID, &payload, &state, &e.Attempts, &e.LastError, &next, &createdAt); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return Entry{}, fmt.Errorf("decode payload %s: %w", e.ClientID, err)
	}
	e.State = State(state)
	if next.Valid {
		t, err := time.Parse(time.RFC3339Nano, next.String)
		if err != nil {
			return Entry{}, fmt.Errorf("decode next_attempt_at %s: %w", e.ClientID, err)
		}
		e.NextAttemptAt = &t
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("decode created_at %s: %w", e.ClientID, err)
	}
	e.CreatedAt = t
	return e, nil
}
