package orders

import "sort"

// DepartmentOf resolves the department serving a menu item.
type DepartmentOf func(menuItemID string) (Department, bool)

type DepartmentState struct {
	Department   Department  `json:"department"`
	Started      bool        `json:"started"`
	AllReady     bool        `json:"all_ready"`
	AllDelivered bool        `json:"all_delivered"`
	Items        []OrderItem `json:"items"`
}

// Aggregate groups items by department. Started is true when any item of the
// department has begun preparation; AllReady only when every one of them has
// been marked ready. Items that resolve to no department land in
// DeptUnassigned.
func Aggregate(items []OrderItem, deptOf DepartmentOf) map[Department]DepartmentState {
	out := make(map[Department]DepartmentState)
	for _, it := range items {
		dept, ok := deptOf(it.MenuItemID)
		if !ok || !dept.Valid() {
			dept = DeptUnassigned
		}
		st, seen := out[dept]
		if !seen {
			st = DepartmentState{Department: dept, AllReady: true, AllDelivered: true}
		}
		if it.PreparingStartedAt != nil {
			st.Started = true
		}
		if it.MarkedReadyAt == nil {
			st.AllReady = false
		}
		if it.DeliveredAt == nil {
			st.AllDelivered = false
		}
		st.Items = append(st.Items, it)
		out[dept] = st
	}
	return out
}

// OrderIsFullyReady is the only condition that may move an order to ready.
// Department grouping plays no part in it.
func OrderIsFullyReady(items []OrderItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.MarkedReadyAt == nil {
			return false
		}
	}
	return true
}

// SortedDepartments returns the map's departments in a stable order.
func SortedDepartments(m map[Department]DepartmentState) []DepartmentState {
	out := make([]DepartmentState, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}
