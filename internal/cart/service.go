// Package cart keeps one live cart per user and prices it against the catalog.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/techTenzen/Cricket/internal/cart/cache"
	"github.com/techTenzen/Cricket/internal/cart/repository"
	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/userlock"
)

// maxSaveAttempts bounds retries after losing an optimistic version race to
// another process.
const maxSaveAttempts = 3

const loadTimeout = 5 * time.Second

// ErrCartNotCleared is returned by CheckoutCart when commit succeeded but the
// cart could not be reset afterwards.
var ErrCartNotCleared = errors.New("cart not cleared after checkout")

// Catalog is the part of the catalog the cart reads prices from.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Service struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog Catalog
	locks   *userlock.Locker
	sfg     singleflight.Group // Prevents cache stampede
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(repo repository.CartRepository, c cache.CartCache, catalog Catalog, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		cache:   c,
		catalog: catalog,
		locks:   userlock.New(),
		logger:  logger.With("component", "cart"),
		now:     time.Now,
	}
}

// GetCart returns the user's live cart with its total recomputed from the
// lines. A user without a cart gets an empty one.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		// the load is shared by every waiter, so one caller giving up must
		// not fail the others
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cache get failed", "user_id", userID, "error", err)
		}

		// hold the user lock so a concurrent write cannot slip in between
		// the read below and the cache fill
		unlock, err := s.locks.Lock(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.NewCart(userID, s.now()), nil
		}
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, userID, cart); err != nil {
			s.logger.WarnContext(ctx, "cache set failed", "user_id", userID, "error", err)
		}
		return cart, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	cart := res.Val.(*domain.Cart).Clone()
	cart.Recalculate()
	return cart, nil
}

// AddItem puts qty units of the product into the cart at the current
// catalog price, merging with an existing line of the same size.
func (s *Service) AddItem(ctx context.Context, userID, productID, size string, qty int) (*domain.Cart, error) {
	if qty < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := product.CheckLine(size); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, func(c *domain.Cart) (bool, error) {
		if i := c.Find(productID, size); i >= 0 {
			c.Items[i].Quantity += qty
			return true, nil
		}
		c.Items = append(c.Items, domain.CartItem{
			ProductID: productID,
			Size:      size,
			Quantity:  qty,
			UnitPrice: product.Price,
			AddedAt:   s.now(),
		})
		return true, nil
	})
}

// UpdateItem sets the quantity of an existing line. Removing a line is
// RemoveItem's job; qty below 1 is rejected.
func (s *Service) UpdateItem(ctx context.Context, userID, productID, size string, qty int) (*domain.Cart, error) {
	if qty < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	return s.mutate(ctx, userID, func(c *domain.Cart) (bool, error) {
		i := c.Find(productID, size)
		if i < 0 {
			return false, fmt.Errorf("%w: %s", domain.ErrItemNotFound, lineKey(productID, size))
		}
		if c.Items[i].Quantity == qty {
			return false, nil
		}
		c.Items[i].Quantity = qty
		return true, nil
	})
}

// RemoveItem drops a line. Removing an absent line is a no-op.
func (s *Service) RemoveItem(ctx context.Context, userID, productID, size string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) (bool, error) {
		i := c.Find(productID, size)
		if i < 0 {
			return false, nil
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return true, nil
	})
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.mutate(ctx, userID, func(c *domain.Cart) (bool, error) {
		if c.IsEmpty() {
			return false, nil
		}
		c.Reset(s.now())
		return true, nil
	})
}

// CheckoutCart hands a copy of the user's cart to commit while holding the
// user's lock, and empties the cart once commit succeeds. Errors from commit
// are returned as is. When commit succeeded but the reset failed the error
// wraps ErrCartNotCleared.
func (s *Service) CheckoutCart(ctx context.Context, userID string, commit func(*domain.Cart) error) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	cart, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if cart.IsEmpty() {
		return domain.ErrEmptyCart
	}
	cart.Recalculate()

	if err := commit(cart.Clone()); err != nil {
		return err
	}

	// the order already exists; the caller's cancellation must not leave
	// the purchased lines in the cart
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	cart.Reset(s.now())
	err = s.repo.SaveCart(resetCtx, cart)
	s.invalidateCache(resetCtx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCartNotCleared, err)
	}
	return nil
}

// mutate applies fn to the user's cart under the user's lock and saves the
// result. A lost version race reloads the cart and applies fn again.
func (s *Service) mutate(ctx context.Context, userID string, fn func(c *domain.Cart) (bool, error)) (*domain.Cart, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		cart, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}

		changed, err := fn(cart)
		if err != nil {
			return nil, err
		}
		cart.Recalculate()
		if !changed {
			return cart, nil
		}

		cart.UpdatedAt = s.now()
		err = s.repo.SaveCart(ctx, cart)
		if err == nil {
			s.invalidateCache(ctx, userID)
			return cart.Clone(), nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxSaveAttempts {
			s.logger.ErrorContext(ctx, "save cart failed", "user_id", userID, "attempt", attempt, "error", err)
			return nil, err
		}
		s.logger.DebugContext(ctx, "cart version conflict, retrying", "user_id", userID, "attempt", attempt)
	}
}

// load reads the stored cart, or a fresh empty one.
func (s *Service) load(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.NewCart(userID, s.now()), nil
	}
	if err != nil {
		return nil, err
	}
	if cart.ID == "" {
		// stored before carts carried an id; kept from the next save on
		cart.ID = uuid.NewString()
	}
	return cart, nil
}

func (s *Service) invalidateCache(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed", "user_id", userID, "error", err)
	}
}

func lineKey(productID, size string) string {
	if size == "" {
		return productID
	}
	return productID + "/" + size
}
