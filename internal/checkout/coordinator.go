// Package checkout turns a user's cart into an order without overselling.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/techTenzen/Cricket/internal/cart"
	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/metrics"
	"github.com/techTenzen/Cricket/internal/order"
)

const compensationTimeout = 10 * time.Second

// Request is a checkout attempt. IdempotencyKey is optional; without it the
// key is derived from the cart's id and version.
type Request struct {
	UserID          string
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	IdempotencyKey  string
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidArgument, r.PaymentMethod)
	}
	return r.ShippingAddress.Validate()
}

// Carts is the cart operation checkout runs inside.
type Carts interface {
	CheckoutCart(ctx context.Context, userID string, commit func(*domain.Cart) error) error
}

// Inventory is the catalog side of checkout.
type Inventory interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ReserveStock(ctx context.Context, productID, size string, qty int) error
	ReleaseStock(ctx context.Context, productID, size string, qty int) error
}

// Orders is the order storage used by checkout.
type Orders interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
}

type Coordinator struct {
	carts     Carts
	inventory Inventory
	orders    Orders
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewCoordinator(carts Carts, inventory Inventory, orders Orders, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		carts:     carts,
		inventory: inventory,
		orders:    orders,
		metrics:   m,
		logger:    logger.With("component", "checkout"),
		now:       time.Now,
	}
}

// Checkout reserves every cart line, records the order and empties the cart.
// Either all lines are reserved and the order exists, or no stock is held.
// Orders are priced at the current catalog price, not the cart snapshot.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		c.metrics.CheckoutResult("invalid")
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := c.replay(ctx, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			c.metrics.CheckoutResult("replayed")
			return existing, nil
		}
	}

	var placed *domain.Order
	err := c.carts.CheckoutCart(ctx, req.UserID, func(snapshot *domain.Cart) error {
		o, err := c.commit(ctx, req, snapshot)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, cart.ErrCartNotCleared) && placed != nil:
		// the order stands; the user sees stale lines until the next write
		c.logger.ErrorContext(ctx, "cart not cleared after checkout",
			"user_id", req.UserID, "order_id", placed.ID, "error", err)
	case errors.Is(err, domain.ErrEmptyCart) && req.IdempotencyKey != "":
		// a concurrent request with the same key may have just emptied the cart
		existing, rerr := c.replay(ctx, req)
		if rerr == nil && existing != nil {
			c.metrics.CheckoutResult("replayed")
			return existing, nil
		}
		c.metrics.CheckoutResult("empty_cart")
		return nil, err
	default:
		c.metrics.CheckoutResult(resultLabel(err))
		return nil, err
	}

	c.metrics.CheckoutResult("success")
	return placed, nil
}

// replay returns the order already placed with the request's key, or nil.
func (c *Coordinator) replay(ctx context.Context, req Request) (*domain.Order, error) {
	o, err := c.orders.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "duplicate checkout detected",
		"user_id", req.UserID, "idempotency_key", req.IdempotencyKey, "order_id", o.ID)
	return o, nil
}

// commit runs under the user's cart lock.
func (c *Coordinator) commit(ctx context.Context, req Request, snapshot *domain.Cart) (*domain.Order, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = snapshot.CheckoutKey()
	}

	items, err := c.priceLines(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	reserved, err := c.reserve(ctx, items)
	if err != nil {
		return nil, err
	}

	now := c.now()
	o := &domain.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TotalAmount:     domain.ComputeTotal(items),
		Status:          domain.OrderStatusPending,
		IdempotencyKey:  key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = c.orders.CreateOrder(ctx, o)
	if errors.Is(err, order.ErrDuplicateCheckout) {
		c.release(ctx, reserved)
		existing, ferr := c.orders.FindByIdempotencyKey(ctx, req.UserID, key)
		if ferr != nil {
			return nil, ferr
		}
		c.logger.InfoContext(ctx, "checkout lost to a concurrent duplicate",
			"user_id", req.UserID, "idempotency_key", key, "order_id", existing.ID)
		return existing, nil
	}
	if err != nil {
		c.release(ctx, reserved)
		c.logger.ErrorContext(ctx, "persist order failed, reservations released",
			"user_id", req.UserID, "error", err)
		if errors.Is(err, domain.ErrUnavailable) {
			return nil, err
		}
		return nil, domain.Unavailable("create order", err)
	}

	c.logger.InfoContext(ctx, "order placed",
		"user_id", req.UserID, "order_id", o.ID, "total", o.TotalAmount.StringFixed(2), "lines", len(items))
	return o, nil
}

// priceLines re-reads every line from the catalog and builds the order
// snapshot at the current price.
func (c *Coordinator) priceLines(ctx context.Context, snapshot *domain.Cart) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(snapshot.Items))
	for _, line := range snapshot.Items {
		product, err := c.inventory.GetProduct(ctx, line.ProductID)
		if err == nil {
			err = product.CheckLine(line.Size)
		}
		if err != nil {
			return nil, &domain.LineError{ProductID: line.ProductID, Size: line.Size, Err: err}
		}
		if !product.Price.Equal(line.UnitPrice) {
			c.logger.InfoContext(ctx, "price changed since add to cart",
				"user_id", snapshot.UserID, "product_id", line.ProductID,
				"cart_price", line.UnitPrice.StringFixed(2), "price", product.Price.StringFixed(2))
		}
		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Size:      line.Size,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			ImageURL:  product.ImageURL,
		})
	}
	return items, nil
}

// reserve takes stock for every line. On the first refusal the lines already
// reserved are given back and the failing line is reported.
func (c *Coordinator) reserve(ctx context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
	reserved := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if err := c.inventory.ReserveStock(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			c.metrics.ReservationFailed(reservationReason(err))
			c.release(ctx, reserved)
			return nil, &domain.LineError{ProductID: item.ProductID, Size: item.Size, Err: err}
		}
		reserved = append(reserved, item)
	}
	return reserved, nil
}

// release is compensation and must finish even if the caller gave up.
func (c *Coordinator) release(ctx context.Context, items []domain.OrderItem) {
	if len(items) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for _, item := range items {
		if err := c.inventory.ReleaseStock(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			// TODO: park failed releases in the outbox so a worker can retry them
			c.logger.ErrorContext(ctx, "release reserved stock failed",
				"product_id", item.ProductID, "size", item.Size, "quantity", item.Quantity, "error", err)
		}
	}
}

func reservationReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrVariantRequired):
		return "invalid_line"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
