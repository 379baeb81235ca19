package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/techTenzen/Cricket/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`

	// set for stock and line failures of a checkout
	ProductID string `json:"product_id,omitempty"`
	Size      string `json:"size,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads a JSON body, rejecting unknown fields and trailing data.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// handleError converts engine errors to HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var status int

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		status, resp.Code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrVariantRequired):
		status, resp.Code = http.StatusBadRequest, "size_required"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, resp.Code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrEmptyCart):
		status, resp.Code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		status, resp.Code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		status, resp.Code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrVariantNotFound):
		status, resp.Code = http.StatusNotFound, "size_not_found"
	case errors.Is(err, domain.ErrItemNotFound):
		status, resp.Code = http.StatusNotFound, "item_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		status, resp.Code = http.StatusNotFound, "order_not_found"
	case errors.Is(err, domain.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, resp.Code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		status, resp.Code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		status, resp.Code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, resp.Code = http.StatusGatewayTimeout, "timeout"
	default:
		status, resp.Code = http.StatusInternalServerError, "internal_error"
		resp.Error = "internal server error"
	}

	var line *domain.LineError
	if errors.As(err, &line) {
		resp.ProductID, resp.Size = line.ProductID, line.Size
	}
	var stock *domain.StockError
	if errors.As(err, &stock) {
		resp.ProductID, resp.Size = stock.ProductID, stock.Size
		available := stock.Available
		resp.Available = &available
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	respondJSON(w, status, resp)
}
