// Package catalog is the authoritative stock ledger of the storefront.
package catalog

import (
	"context"

	"github.com/techTenzen/Cricket/internal/domain"
)

// Store defines the catalog operations used by the cart and checkout.
// An empty size addresses a product without size variants.
type Store interface {
	// GetProduct returns a copy of the product.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// ListProducts returns every product ordered by id.
	ListProducts(ctx context.Context) ([]*domain.Product, error)

	// GetAvailableStock returns the variant stock when a size is given,
	// the aggregate stock otherwise.
	GetAvailableStock(ctx context.Context, productID, size string) (int, error)

	// ReserveStock decrements stock only if at least qty units are available.
	// The guard and the decrement are a single conditional write; the
	// aggregate stock of a variant product changes in the same write.
	ReserveStock(ctx context.Context, productID, size string, qty int) error

	// ReleaseStock adds qty units back.
	ReleaseStock(ctx context.Context, productID, size string, qty int) error

	// PutProduct creates or replaces a product. Aggregate stock of a variant
	// product is always recomputed, whatever the caller passed.
	PutProduct(ctx context.Context, p *domain.Product) error

	// SetStock overrides the stock of a flat product or of one variant.
	SetStock(ctx context.Context, productID, size string, stock int) error

	Close() error
}

func checkQuantity(qty int) error {
	if qty < 1 {
		return domain.ErrInvalidQuantity
	}
	return nil
}
