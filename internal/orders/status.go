package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPreparing: true, StatusReady: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true, StatusCancelled: true},
	StatusReady:     {StatusCompleted: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to moves forward. Status only ever
// advances; cancelled is the single side exit.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

type Action string

const (
	ActionStartDepartment     Action = "start_department"
	ActionMarkDepartmentReady Action = "mark_department_ready"
	ActionMarkDelivered       Action = "mark_department_delivered"
	ActionComplete            Action = "complete"
	ActionCancel              Action = "cancel"
	ActionMarkReadyForPickup  Action = "mark_ready_for_pickup"
	ActionConfirmPickup       Action = "confirm_pickup"
)

var actionFrom = map[Action][]Status{
	ActionStartDepartment:     {StatusPending, StatusPreparing, StatusReady},
	ActionMarkDepartmentReady: {StatusPending, StatusPreparing, StatusReady},
	ActionMarkDelivered:       {StatusPreparing, StatusReady},
	ActionComplete:            {StatusReady},
	ActionCancel:              {StatusPending, StatusPreparing},
	ActionMarkReadyForPickup:  {StatusReady},
	ActionConfirmPickup:       {StatusReady},
}

// ValidAction reports whether action may run while the order is in status.
func ValidAction(action Action, status Status) bool {
	for _, s := range actionFrom[action] {
		if s == status {
			return true
		}
	}
	return false
}
