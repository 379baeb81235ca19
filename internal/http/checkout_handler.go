package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/techTenzen/Cricket/internal/checkout"
	"github.com/techTenzen/Cricket/internal/domain"
)

// HeaderIdempotencyKey lets clients retry a checkout without placing a
// second order.
const HeaderIdempotencyKey = "Idempotency-Key"

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout Checkouter
	timeout  time.Duration
}

func NewCheckoutHandler(c Checkouter, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: c,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddress domain.Address       `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	IdempotencyKey  string               `json:"idempotency_key,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if len(key) > 128 {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is longer than 128 characters")
		return
	}

	order, err := h.checkout.Checkout(ctx, checkout.Request{
		UserID:          getUserIDFromContext(r.Context()),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  key,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
