package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/order"
)

type OrderService interface {
	GetForUser(ctx context.Context, userID, orderID string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	Cancel(ctx context.Context, userID, orderID string) (*domain.Order, error)
	List(ctx context.Context, filter order.ListFilter) ([]*domain.Order, error)
	Stats(ctx context.Context) (*order.Stats, error)
	Transition(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type UpdateStatusRequestDTO struct {
	Status domain.OrderStatus `json:"status"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListByUser(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, err := h.orders.GetForUser(ctx, getUserIDFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, err := h.orders.Cancel(ctx, getUserIDFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil && o == nil {
		handleError(w, r, err)
		return
	}
	// a cancelled order whose stock release failed is still cancelled
	respondJSON(w, http.StatusOK, o)
}

// GET /api/v1/admin/orders?status=&limit=
func (h *OrdersHandler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	filter := order.ListFilter{Status: domain.OrderStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.orders.List(ctx, filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

// GET /api/v1/admin/orders/stats
func (h *OrdersHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.orders.Stats(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// PUT /api/v1/admin/orders/{order_id}/status
func (h *OrdersHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	o, err := h.orders.Transition(ctx, chi.URLParam(r, "order_id"), req.Status)
	if err != nil && o == nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func nonNil(orders []*domain.Order) []*domain.Order {
	if orders == nil {
		return []*domain.Order{}
	}
	return orders
}
