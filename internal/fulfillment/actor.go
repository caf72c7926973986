package fulfillment

import "github.com/ariefcatur/go-realtime-fulfillment/internal/orders"

type Role string

const (
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleCashier Role = "cashier"
)

// Actor identifies who performs an operation. It is passed explicitly on every
// call; the engine keeps no session state.
type Actor struct {
	RestaurantID string            `json:"restaurant_id"`
	Role         Role              `json:"role"`
	Department   orders.Department `json:"department,omitempty"`
}

var roleActions = map[Role]map[orders.Action]bool{
	RoleManager: {
		orders.ActionStartDepartment:     true,
		orders.ActionMarkDepartmentReady: true,
		orders.ActionMarkDelivered:       true,
		orders.ActionComplete:            true,
		orders.ActionCancel:              true,
		orders.ActionMarkReadyForPickup:  true,
		orders.ActionConfirmPickup:       true,
	},
	RoleStaff: {
		orders.ActionStartDepartment:     true,
		orders.ActionMarkDepartmentReady: true,
		orders.ActionMarkDelivered:       true,
	},
	RoleCashier: {
		orders.ActionMarkDelivered:      true,
		orders.ActionComplete:           true,
		orders.ActionCancel:             true,
		orders.ActionMarkReadyForPickup: true,
		orders.ActionConfirmPickup:      true,
	},
}

func departmentAction(a orders.Action) bool {
	switch a {
	case orders.ActionStartDepartment, orders.ActionMarkDepartmentReady, orders.ActionMarkDelivered:
		return true
	}
	return false
}

// Allowed reports whether the actor may run action; dept is only consulted for
// department actions. Staff are bound to their own department.
func (a Actor) Allowed(action orders.Action, dept orders.Department) bool {
	if a.RestaurantID == "" || !roleActions[a.Role][action] {
		return false
	}
	if a.Role == RoleStaff && departmentAction(action) {
		return a.Department == dept
	}
	return true
}
