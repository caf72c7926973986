package menu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

var ErrMenuItemNotFound = errors.New("menu item not found")

// Directory resolves which department prepares a menu item. The menu itself is
// owned elsewhere; this is lookup only.
type Directory interface {
	LookupDepartment(ctx context.Context, menuItemID string) (orders.Department, error)
}

// Static is an in-memory directory.
type Static map[string]orders.Department

func (s Static) LookupDepartment(_ context.Context, menuItemID string) (orders.Department, error) {
	d, ok := s[menuItemID]
	if !ok {
		return "", fmt.Errorf("%s: %w", menuItemID, ErrMenuItemNotFound)
	}
	return d, nil
}

type FileItem struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Department orders.Department `yaml:"department"`
	PriceCents int               `yaml:"price_cents,omitempty"`
}

type File struct {
	RestaurantID string     `yaml:"restaurant_id"`
	Items        []FileItem `yaml:"items"`
}

// LoadFile reads a YAML menu export so a point of sale can resolve departments
// without reaching the backend.
func LoadFile(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return ParseFile(b)
}

func ParseFile(b []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("decode menu: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Validate() error {
	seen := map[string]bool{}
	for i, it := range f.Items {
		if it.ID == "" {
			return fmt.Errorf("menu item #%d: missing id", i)
		}
		if seen[it.ID] {
			return fmt.Errorf("menu item %s: duplicate id", it.ID)
		}
		if !it.Department.Valid() {
			return fmt.Errorf("menu item %s: %w %q", it.ID, orders.ErrUnknownDepartment, it.Department)
		}
		seen[it.ID] = true
	}
	return nil
}

func (f File) Directory() Static {
	out := make(Static, len(f.Items))
	for _, it := range f.Items {
		out[it.ID] = it.Department
	}
	return out
}

// PGDirectory reads menu_items and remembers answers; departments of existing
// items do not move while an order is being prepared.
type PGDirectory struct {
	DB *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]orders.Department
}

func (d *PGDirectory) LookupDepartment(ctx context.Context, menuItemID string) (orders.Department, error) {
	d.mu.RLock()
	dept, ok := d.cache[menuItemID]
	d.mu.RUnlock()
	if ok {
		return dept, nil
	}

	var s string
	err := d.DB.QueryRow(ctx, `SELECT department FROM menu_items WHERE id=$1`, menuItemID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", menuItemID, ErrMenuItemNotFound)
	}
	if err != nil {
		return "", err
	}
	dept = orders.Department(s)

	d.mu.Lock()
	if d.cache == nil {
		d.cache = map[string]orders.Department{}
	}
	d.cache[menuItemID] = dept
	d.mu.Unlock()
	return dept, nil
}
