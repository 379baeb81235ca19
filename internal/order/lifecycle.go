// Package order owns orders after checkout: storage, status transitions and
// the stock side effects of cancellation.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/metrics"
)

const (
	maxTransitionAttempts = 5
	releaseTimeout        = 10 * time.Second
)

// StockReleaser gives cancelled quantities back to the catalog.
type StockReleaser interface {
	ReleaseStock(ctx context.Context, productID, size string, qty int) error
}

// Stats summarises all orders for the admin dashboard.
type Stats struct {
	TotalOrders       int                        `json:"total_orders"`
	ByStatus          map[domain.OrderStatus]int `json:"by_status"`
	Revenue           decimal.Decimal            `json:"revenue"`
	AverageOrderValue decimal.Decimal            `json:"average_order_value"`
}

type Manager struct {
	repo    OrderRepository
	stock   StockReleaser
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(repo OrderRepository, stock StockReleaser, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:    repo,
		stock:   stock,
		metrics: m,
		logger:  logger.With("component", "order"),
		now:     time.Now,
	}
}

// Transition moves the order to next. Only the edges of the order state
// machine are accepted. The stored status is compared and set in one write,
// so of two racing transitions only one wins; the loser is re-evaluated
// against the fresh status. Entering cancelled releases the order's stock.
func (m *Manager) Transition(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, next)
	}

	for attempt := 1; ; attempt++ {
		current, err := m.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !domain.CanTransitionTo(current.Status, next) {
			return nil, &domain.TransitionError{From: current.Status, To: next}
		}

		updated, err := m.repo.UpdateStatus(ctx, orderID, current.Status, next, m.now())
		if errors.Is(err, domain.ErrConflict) && attempt < maxTransitionAttempts {
			m.logger.DebugContext(ctx, "order status changed underneath, retrying",
				"order_id", orderID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		m.metrics.OrderTransition(current.Status.String(), next.String())
		m.logger.InfoContext(ctx, "order status changed",
			"order_id", orderID, "from", current.Status, "to", next)

		if next == domain.OrderStatusCancelled {
			if err := m.releaseLines(ctx, updated); err != nil {
				return updated, err
			}
		}
		return updated, nil
	}
}

// Cancel is the customer-initiated cancellation. Orders of other users are
// reported as not found.
func (m *Manager) Cancel(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if _, err := m.GetForUser(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return m.Transition(ctx, orderID, domain.OrderStatusCancelled)
}

func (m *Manager) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.repo.GetOrder(ctx, orderID)
}

// GetForUser returns the order only if it belongs to userID.
func (m *Manager) GetForUser(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	o, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (m *Manager) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return m.repo.ListOrdersByUserID(ctx, userID)
}

func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, filter.Status)
	}
	return m.repo.ListOrders(ctx, filter)
}

// Stats counts orders per status. Revenue only includes delivered orders;
// the average order value ignores cancelled ones.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	summary, err := m.repo.StatusSummary(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:          make(map[domain.OrderStatus]int),
		Revenue:           decimal.Zero,
		AverageOrderValue: decimal.Zero,
	}
	placed := 0
	placedAmount := decimal.Zero
	for _, s := range summary {
		stats.TotalOrders += s.Count
		stats.ByStatus[s.Status] = s.Count
		if s.Status == domain.OrderStatusDelivered {
			stats.Revenue = s.Amount
		}
		if s.Status != domain.OrderStatusCancelled {
			placed += s.Count
			placedAmount = placedAmount.Add(s.Amount)
		}
	}
	if placed > 0 {
		stats.AverageOrderValue = placedAmount.Div(decimal.NewFromInt(int64(placed))).Round(2)
	}
	return stats, nil
}

// releaseLines runs once per cancelled order, after the status write won.
// It keeps going past failures so one bad line does not strand the others.
func (m *Manager) releaseLines(ctx context.Context, o *domain.Order) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var errs []error
	for _, item := range o.Items {
		if err := m.stock.ReleaseStock(ctx, item.ProductID, item.Size, item.Quantity); err != nil {
			m.logger.ErrorContext(ctx, "release stock of cancelled order failed",
				"order_id", o.ID, "product_id", item.ProductID, "size", item.Size,
				"quantity", item.Quantity, "error", err)
			errs = append(errs, &domain.LineError{ProductID: item.ProductID, Size: item.Size, Err: err})
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("order %s cancelled but stock release failed: %w", o.ID, errors.Join(errs...))
	}
	return nil
}
