package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/techTenzen/Cricket/internal/domain"
)

// MemoryRepository keeps carts in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*domain.Cart)}
}

func (r *MemoryRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrCartNotFound, userID)
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored int64
	if c, ok := r.carts[cart.UserID]; ok {
		stored = c.Version
	}
	if stored != cart.Version {
		return fmt.Errorf("%w: cart of user %s is at version %d, not %d",
			domain.ErrConflict, cart.UserID, stored, cart.Version)
	}

	cart.Version++
	r.carts[cart.UserID] = cart.Clone()
	return nil
}
