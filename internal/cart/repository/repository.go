package repository

import (
	"context"

	"github.com/techTenzen/Cricket/internal/domain"
)

// CartRepository defines the interface for cart persistence.
// Consumers define this interface, not the MongoDB implementation.
type CartRepository interface {
	// GetCart returns domain.ErrCartNotFound when the user has no cart yet.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// SaveCart stores the cart if the stored version still equals
	// cart.Version, then bumps cart.Version. A zero version means the cart
	// has never been stored. A lost race returns domain.ErrConflict.
	SaveCart(ctx context.Context, cart *domain.Cart) error
}
