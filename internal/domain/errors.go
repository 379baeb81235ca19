package domain

import (
	"errors"
	"fmt"
)

// Common errors returned by the engine. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrInvalidTransition = errors.New("illegal transition of order status")
	ErrConflict          = errors.New("concurrent modification, retry may succeed")
	ErrUnavailable       = errors.New("storage unavailable")
	ErrVariantRequired   = errors.New("size is required for this product")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// NotFound flavours. All of them satisfy errors.Is(err, ErrNotFound).
var (
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrVariantNotFound = fmt.Errorf("size variant %w", ErrNotFound)
	ErrCartNotFound    = fmt.Errorf("cart %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item %w in cart", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
)

// StockError reports a failed reservation. Available is the stock observed
// right after the conditional decrement was refused.
type StockError struct {
	ProductID string
	Size      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Size != "" {
		return fmt.Sprintf("insufficient stock for product %s size %s: requested %d, available %d",
			e.ProductID, e.Size, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// LineError names the cart line a checkout failed on.
type LineError struct {
	ProductID string
	Size      string
	Err       error
}

func (e *LineError) Error() string {
	if e.Size != "" {
		return fmt.Sprintf("line %s/%s: %v", e.ProductID, e.Size, e.Err)
	}
	return fmt.Sprintf("line %s: %v", e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// TransitionError is returned for a status change outside the allowed edges.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Unavailable wraps a storage fault so that it matches ErrUnavailable while
// keeping the driver error in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
