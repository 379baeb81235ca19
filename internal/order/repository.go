package order

import (
	"context"
	"errors"
	"time"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/outbox"
)

// ErrDuplicateCheckout is returned when an order with the same
// (user, idempotency key) already exists.
var ErrDuplicateCheckout = errors.New("order for this checkout already exists")

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	Status domain.OrderStatus
	Limit  int
}

// OrderRepository persists orders. CreateOrder and UpdateStatus write an
// outbox event in the same transaction as the order row.
type OrderRepository interface {
	outbox.Store

	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]*domain.Order, error)

	// UpdateStatus moves the order from -> to only if its stored status is
	// still from. Otherwise it returns domain.ErrConflict.
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (*domain.Order, error)

	StatusSummary(ctx context.Context) ([]domain.StatusSummary, error)
}
