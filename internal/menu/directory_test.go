package menu

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

const sampleMenu = `
restaurant_id: r1
items:
  - id: burger
    name: Burger
    department: kitchen
    price_cents: 1200
  - id: mojito
    name: Mojito
    department: bar
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMenu), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "r1", f.RestaurantID)
	require.Len(t, f.Items, 2)

	dir := f.Directory()
	dept, err := dir.LookupDepartment(context.Background(), "mojito")
	require.NoError(t, err)
	assert.Equal(t, orders.DeptBar, dept)

	_, err = dir.LookupDepartment(context.Background(), "pizza")
	assert.ErrorIs(t, err, ErrMenuItemNotFound)
}

func TestParseFileRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"unknown department": "items:\n  - id: a\n    department: grill\n",
		"duplicate id":       "items:\n  - id: a\n    department: bar\n  - id: a\n    department: bar\n",
		"missing id":         "items:\n  - department: bar\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(doc))
			assert.Error(t, err)
		})
	}
}
