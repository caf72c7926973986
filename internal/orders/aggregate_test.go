package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var depts = map[string]Department{"burger": DeptKitchen, "fries": DeptKitchen, "mojito": DeptBar}

func lookup(id string) (Department, bool) {
	d, ok := depts[id]
	return d, ok
}

func TestAggregate(t *testing.T) {
	now := time.Now()
	items := []OrderItem{
		{ID: "1", MenuItemID: "burger", PreparingStartedAt: &now, MarkedReadyAt: &now},
		{ID: "2", MenuItemID: "fries"},
		{ID: "3", MenuItemID: "mojito", PreparingStartedAt: &now, MarkedReadyAt: &now, DeliveredAt: &now},
	}
	got := Aggregate(items, lookup)
	require.Len(t, got, 2)

	kitchen := got[DeptKitchen]
	assert.True(t, kitchen.Started)
	assert.False(t, kitchen.AllReady)
	assert.False(t, kitchen.AllDelivered)
	assert.Len(t, kitchen.Items, 2)

	bar := got[DeptBar]
	assert.True(t, bar.AllReady)
	assert.True(t, bar.AllDelivered)

	sorted := SortedDepartments(got)
	assert.Equal(t, DeptBar, sorted[0].Department)
	assert.Equal(t, DeptKitchen, sorted[1].Department)
}

func TestAggregateUnresolvedItemsAreUnassigned(t *testing.T) {
	now := time.Now()
	items := []OrderItem{
		{ID: "1", MenuItemID: "burger", MarkedReadyAt: &now},
		{ID: "2", MenuItemID: "cake"},
	}
	got := Aggregate(items, lookup)
	require.Len(t, got, 2)
	assert.True(t, got[DeptKitchen].AllReady)
	assert.Len(t, got[DeptUnassigned].Items, 1)
	assert.False(t, got[DeptUnassigned].AllReady)
	assert.False(t, OrderIsFullyReady(items))
	assert.False(t, DeptUnassigned.Valid())
}

func TestOrderIsFullyReady(t *testing.T) {
	now := time.Now()
	assert.False(t, OrderIsFullyReady(nil))
	assert.False(t, OrderIsFullyReady([]OrderItem{{MarkedReadyAt: &now}, {}}))
	assert.True(t, OrderIsFullyReady([]OrderItem{{MarkedReadyAt: &now}, {MarkedReadyAt: &now}}))
}
