package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/techTenzen/Cricket/internal/domain"
)

// MemoryStore implements Store with in-memory storage. Every stock change
// happens under the write lock, so check and decrement are one step.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) GetAvailableStock(_ context.Context, productID, size string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return p.AvailableStock(size)
}

// ReserveStock checks availability and decrements under one write lock.
func (s *MemoryStore) ReserveStock(_ context.Context, productID, size string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err := p.CheckLine(size); err != nil {
		return err
	}

	if size == "" {
		if p.Stock < qty {
			return &domain.StockError{ProductID: productID, Requested: qty, Available: p.Stock}
		}
		p.Stock -= qty
		return nil
	}

	v := &p.SizeVariants[p.Variant(size)]
	if v.Stock < qty {
		return &domain.StockError{ProductID: productID, Size: size, Requested: qty, Available: v.Stock}
	}
	v.Stock -= qty
	p.RecomputeStock()
	return nil
}

// ReleaseStock returns qty units to the pool.
func (s *MemoryStore) ReleaseStock(_ context.Context, productID, size string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err := p.CheckLine(size); err != nil {
		return err
	}

	if size == "" {
		p.Stock += qty
		return nil
	}
	p.SizeVariants[p.Variant(size)].Stock += qty
	p.RecomputeStock()
	return nil
}

func (s *MemoryStore) PutProduct(_ context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	stored := p.Clone()
	stored.RecomputeStock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[stored.ID] = stored
	return nil
}

// SetStock sets the stock level of a product or one of its sizes.
func (s *MemoryStore) SetStock(_ context.Context, productID, size string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock must be >= 0", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err := p.CheckLine(size); err != nil {
		return err
	}
	if size == "" {
		p.Stock = stock
		return nil
	}
	p.SizeVariants[p.Variant(size)].Stock = stock
	p.RecomputeStock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
