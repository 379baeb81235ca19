package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/outbox"
)

type idempotencyKey struct {
	userID string
	key    string
}

// MemoryRepository keeps orders and their outbox in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	byKey  map[idempotencyKey]string
	events []outbox.Event // pending only, ascending ID
	nextID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]*domain.Order),
		byKey:  make(map[idempotencyKey]string),
	}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, o *domain.Order) error {
	event, err := newEvent(EventOrderCreated, o, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	k := idempotencyKey{o.UserID, o.IdempotencyKey}
	if o.IdempotencyKey != "" {
		if _, dup := r.byKey[k]; dup {
			return ErrDuplicateCheckout
		}
		r.byKey[k] = o.ID
	}
	r.orders[o.ID] = o.Clone()
	r.appendEvent(event)
	return nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) FindByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[idempotencyKey{userID, key}]
	if !ok {
		return nil, fmt.Errorf("%w: key %s", domain.ErrOrderNotFound, key)
	}
	return r.orders[id].Clone(), nil
}

func (r *MemoryRepository) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			result = append(result, o.Clone())
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (r *MemoryRepository) ListOrders(_ context.Context, filter ListFilter) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Order
	for _, o := range r.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		result = append(result, o.Clone())
	}
	sortNewestFirst(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if o.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, not %s", domain.ErrConflict, id, o.Status, from)
	}

	updated := o.Clone()
	updated.ApplyStatus(to, at)
	event, err := newEvent(EventOrderStatusChanged, updated, from)
	if err != nil {
		return nil, err
	}
	r.orders[id] = updated
	r.appendEvent(event)
	return updated.Clone(), nil
}

func (r *MemoryRepository) StatusSummary(_ context.Context) ([]domain.StatusSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byStatus := make(map[domain.OrderStatus]*domain.StatusSummary)
	for _, o := range r.orders {
		s, ok := byStatus[o.Status]
		if !ok {
			s = &domain.StatusSummary{Status: o.Status}
			byStatus[o.Status] = s
		}
		s.Count++
		s.Amount = s.Amount.Add(o.TotalAmount)
	}

	result := make([]domain.StatusSummary, 0, len(byStatus))
	for _, s := range byStatus {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Status < result[j].Status })
	return result, nil
}

func (r *MemoryRepository) PendingEvents(_ context.Context, limit int) ([]outbox.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]outbox.Event(nil), r.events[:n]...), nil
}

func (r *MemoryRepository) MarkEventSent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.events), func(i int) bool { return r.events[i].ID >= id })
	if i < len(r.events) && r.events[i].ID == id {
		r.events = append(r.events[:i], r.events[i+1:]...)
	}
	return nil
}

// appendEvent must be called with mu held.
func (r *MemoryRepository) appendEvent(e outbox.Event) {
	r.nextID++
	e.ID = r.nextID
	r.events = append(r.events, e)
}

func sortNewestFirst(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
