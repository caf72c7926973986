package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/hub"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
	"github.com/ariefcatur/go-realtime-fulfillment/internal/syncer"
)

// Authentication happens upstream; these headers carry the verified actor.
const (
	HeaderRestaurant = "X-Restaurant-ID"
	HeaderRole       = "X-Staff-Role"
	HeaderDepartment = "X-Department"
)

// ViewCache holds recently refreshed order views.
type ViewCache interface {
	Put(ctx context.Context, orderID string, v any) error
	Get(ctx context.Context, orderID string, out any) (bool, error)
	Drop(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Engine *fulfillment.Engine
	Sync   *syncer.Manager
	Cache  ViewCache
	Hub    *hub.Hub

	// ServeCached lets getOrder answer from Cache. Only set it while a change
	// listener keeps the cached views fresh.
	ServeCached bool
}

type pickupConfirmReq struct {
	Code string `json:"code"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Hub != nil {
		r.Get("/restaurants/{rid}/stream", h.stream)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/restaurants/{rid}/orders", h.listOrders)
		r.Post("/restaurants/{rid}/orders", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/departments", h.departmentStatus)
		r.Post("/orders/{id}/departments/{dept}/{op}", h.departmentOp)
		r.Post("/orders/{id}/complete", h.complete)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/orders/{id}/pickup/ready", h.pickupReady)
		r.Post("/orders/{id}/pickup/confirm", h.pickupConfirm)
		r.Post("/sync", h.syncNow)
	})
}

func actorFrom(r *http.Request) fulfillment.Actor {
	return fulfillment.Actor{
		RestaurantID: r.Header.Get(HeaderRestaurant),
		Role:         fulfillment.Role(r.Header.Get(HeaderRole)),
		Department:   orders.Department(r.Header.Get(HeaderDepartment)),
	}
}

// scoped returns the path restaurant when the actor belongs to it.
func scoped(w http.ResponseWriter, r *http.Request) (string, bool) {
	rid := chi.URLParam(r, "rid")
	if rid == "" || actorFrom(r).RestaurantID != rid {
		writeError(w, r, orders.ErrForbidden)
		return "", false
	}
	return rid, true
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	rid, ok := scoped(w, r)
	if !ok {
		return
	}
	view, err := h.Sync.MergedOrderView(r.Context(), rid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	rid, ok := scoped(w, r)
	if !ok {
		return
	}
	var p orders.CreateOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	p.RestaurantID = rid

	placed, err := h.Sync.PlaceOrder(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if placed.Queued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, placed)
}

// getOrder answers from the view cache when it may and the cache holds this
// restaurant's order, and from the remote store otherwise.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	id := chi.URLParam(r, "id")
	if h.ServeCached && h.Cache != nil && actor.RestaurantID != "" {
		var cached fulfillment.OrderView
		hit, err := h.Cache.Get(r.Context(), id, &cached)
		if err != nil {
			log.Printf("view cache get order=%s: %v", id, err)
		}
		if hit && cached.Order.RestaurantID == actor.RestaurantID {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	view, err := h.Engine.DepartmentStatus(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(r.Context(), id, view); err != nil {
			log.Printf("view cache put order=%s: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) departmentStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.DepartmentStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) departmentOp(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	id := chi.URLParam(r, "id")
	dept := orders.Department(chi.URLParam(r, "dept"))

	var op func(context.Context, fulfillment.Actor, string, orders.Department) (fulfillment.Result, error)
	switch chi.URLParam(r, "op") {
	case "start":
		op = h.Engine.StartDepartmentPreparation
	case "ready":
		op = h.Engine.MarkDepartmentReady
	case "delivered":
		op = h.Engine.MarkDepartmentDelivered
	default:
		writeJSON(w, http.StatusNotFound, errorResp{Error: fmt.Sprintf("unknown department operation %q", chi.URLParam(r, "op"))})
		return
	}
	res, err := op(r.Context(), actor, id, dept)
	h.respond(w, r, id, res, err)
}

func (h *OrdersHandler) complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Engine.CompleteOrder(r.Context(), actorFrom(r), id)
	h.respond(w, r, id, res, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Engine.CancelOrder(r.Context(), actorFrom(r), id)
	h.respond(w, r, id, res, err)
}

func (h *OrdersHandler) pickupReady(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.Engine.MarkReadyForPickup(r.Context(), actorFrom(r), id)
	h.respond(w, r, id, res, err)
}

func (h *OrdersHandler) pickupConfirm(w http.ResponseWriter, r *http.Request) {
	var req pickupConfirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.Engine.ConfirmPickup(r.Context(), actorFrom(r), id, req.Code)
	h.respond(w, r, id, res, err)
}

// syncNow drains the whole local queue, which may hold several restaurants'
// orders, so only managers may trigger it.
func (h *OrdersHandler) syncNow(w http.ResponseWriter, r *http.Request) {
	if actor := actorFrom(r); actor.RestaurantID == "" || actor.Role != fulfillment.RoleManager {
		writeError(w, r, orders.ErrForbidden)
		return
	}
	rep, err := h.Sync.SyncNow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// respond drops the cached view of a written order so the next read sees the
// write.
func (h *OrdersHandler) respond(w http.ResponseWriter, r *http.Request, orderID string, res fulfillment.Result, err error) {
	if h.Cache != nil && !errors.Is(err, orders.ErrForbidden) {
		if derr := h.Cache.Drop(r.Context(), orderID); derr != nil {
			log.Printf("view cache drop order=%s: %v", orderID, derr)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
