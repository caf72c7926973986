package httpx

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

type errorResp struct {
	Error string                  `json:"error"`
	State *orders.TransitionError `json:"state,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidPayload), errors.Is(err, orders.ErrUnknownDepartment):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrAlreadyPickedUp),
		errors.Is(err, orders.ErrNotReadyForPickup),
		errors.Is(err, orders.ErrPickupCodeMismatch),
		errors.Is(err, orders.ErrStaleOrder):
		return http.StatusConflict
	case errors.Is(err, orders.ErrWriteUnverifiable):
		return http.StatusBadGateway
	case errors.Is(err, orders.ErrConnectivity), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Printf("request path=%s error=%v", r.URL.Path, err)
	}
	resp := errorResp{Error: err.Error()}
	var te *orders.TransitionError
	if errors.As(err, &te) {
		resp.State = te
	}
	writeJSON(w, code, resp)
}
