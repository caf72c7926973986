package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectivity       = errors.New("remote store unreachable")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidPayload     = errors.New("invalid order payload")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrWriteUnverifiable  = errors.New("write accepted but not readable")
	ErrStaleOrder         = errors.New("order changed concurrently")
	ErrAlreadyPickedUp    = errors.New("order already picked up")
	ErrNotReadyForPickup  = errors.New("order not ready for pickup")
	ErrPickupCodeMismatch = errors.New("pickup code mismatch")
	ErrForbidden          = errors.New("actor not allowed")
	ErrUnknownDepartment  = errors.New("unknown department")
)

// TransitionError rejects an operation that is illegal in the order's current
// state. The state travels with the error so callers can re-render.
type TransitionError struct {
	Action         Action    `json:"action"`
	Status         Status    `json:"status"`
	Type           OrderType `json:"order_type"`
	ReadyForPickup bool      `json:"ready_for_pickup"`
	PickedUp       bool      `json:"picked_up"`
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed: status=%s type=%s ready_for_pickup=%t picked_up=%t",
		e.Action, e.Status, e.Type, e.ReadyForPickup, e.PickedUp)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func NewTransitionError(action Action, o Order) *TransitionError {
	return &TransitionError{
		Action:         action,
		Status:         o.Status,
		Type:           o.Type,
		ReadyForPickup: o.ReadyForPickup,
		PickedUp:       o.PickedUpAt != nil,
	}
}

// UnverifiableError means the store acknowledged a write that a follow-up read
// could not see. Usually a row-level policy that permits UPDATE but not SELECT.
type UnverifiableError struct {
	Op     string
	Entity string
	IDs    []string
	Reason string
}

func (e *UnverifiableError) Error() string {
	return fmt.Sprintf("%s: %s [%s] not verifiable: %s", e.Op, e.Entity, strings.Join(e.IDs, ","), e.Reason)
}

func (e *UnverifiableError) Unwrap() error { return ErrWriteUnverifiable }
