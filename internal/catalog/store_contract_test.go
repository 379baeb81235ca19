package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techTenzen/Cricket/internal/domain"
)

func batX() *domain.Product {
	old := decimal.RequireFromString("279.00")
	return &domain.Product{
		ID:       "bat-x",
		Name:     "Bat-X English Willow",
		Category: domain.CategoryBats,
		Brand:    "Kookaburra",
		Price:    decimal.RequireFromString("249.99"),
		OldPrice: &old,
		Stock:    42, // overwritten from variants
		SizeVariants: []domain.SizeVariant{
			{Size: "SH", Stock: 3},
			{Size: "LH", Stock: 2},
		},
	}
}

func ballY() *domain.Product {
	return &domain.Product{
		ID:       "ball-y",
		Name:     "Ball-Y Match Ball",
		Category: domain.CategoryBalls,
		Price:    decimal.RequireFromString("12.50"),
		Stock:    10,
	}
}

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T) Store {
		s := newStore(t)
		require.NoError(t, s.PutProduct(ctx, batX()))
		require.NoError(t, s.PutProduct(ctx, ballY()))
		return s
	}

	assertAggregate := func(t *testing.T, s Store, want int) {
		p, err := s.GetProduct(ctx, "bat-x")
		require.NoError(t, err)
		sum := 0
		for _, v := range p.SizeVariants {
			sum += v.Stock
		}
		assert.Equal(t, sum, p.Stock, "aggregate must equal the sum of variants")
		assert.Equal(t, want, p.Stock)
	}

	t.Run("PutProduct derives aggregate stock", func(t *testing.T) {
		s := seed(t)
		p, err := s.GetProduct(ctx, "bat-x")
		require.NoError(t, err)

		assert.Equal(t, 5, p.Stock)
		assert.Equal(t, "249.99", p.Price.StringFixed(2))
		require.NotNil(t, p.OldPrice)
		assert.Equal(t, "279.00", p.OldPrice.StringFixed(2))
		require.Len(t, p.SizeVariants, 2)
		assert.Equal(t, "SH", p.SizeVariants[0].Size)
		assert.Equal(t, "LH", p.SizeVariants[1].Size)
	})

	t.Run("ListProducts", func(t *testing.T) {
		s := seed(t)
		products, err := s.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, "ball-y", products[0].ID)
		assert.Equal(t, "bat-x", products[1].ID)
		assert.Len(t, products[1].SizeVariants, 2)
	})

	t.Run("GetProduct not found", func(t *testing.T) {
		s := seed(t)
		_, err := s.GetProduct(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("GetAvailableStock", func(t *testing.T) {
		s := seed(t)

		n, err := s.GetAvailableStock(ctx, "bat-x", "SH")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.GetAvailableStock(ctx, "bat-x", "")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = s.GetAvailableStock(ctx, "ball-y", "")
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		_, err = s.GetAvailableStock(ctx, "bat-x", "XL")
		assert.ErrorIs(t, err, domain.ErrVariantNotFound)

		_, err = s.GetAvailableStock(ctx, "missing", "")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("ReserveStock variant updates aggregate", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.ReserveStock(ctx, "bat-x", "SH", 2))

		n, err := s.GetAvailableStock(ctx, "bat-x", "SH")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assertAggregate(t, s, 3)
	})

	t.Run("ReserveStock flat product", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.ReserveStock(ctx, "ball-y", "", 4))

		n, err := s.GetAvailableStock(ctx, "ball-y", "")
		require.NoError(t, err)
		assert.Equal(t, 6, n)
	})

	t.Run("ReserveStock insufficient leaves stock unchanged", func(t *testing.T) {
		s := seed(t)
		err := s.ReserveStock(ctx, "bat-x", "LH", 3)

		var se *domain.StockError
		require.True(t, errors.As(err, &se))
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		assert.Equal(t, "LH", se.Size)
		assert.Equal(t, 3, se.Requested)
		assert.Equal(t, 2, se.Available)
		assertAggregate(t, s, 5)

		err = s.ReserveStock(ctx, "ball-y", "", 11)
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 10, se.Available)
	})

	t.Run("ReserveStock rejects bad lines", func(t *testing.T) {
		s := seed(t)
		assert.ErrorIs(t, s.ReserveStock(ctx, "missing", "", 1), domain.ErrProductNotFound)
		assert.ErrorIs(t, s.ReserveStock(ctx, "bat-x", "XL", 1), domain.ErrVariantNotFound)
		assert.ErrorIs(t, s.ReserveStock(ctx, "bat-x", "", 1), domain.ErrVariantRequired)
		assert.ErrorIs(t, s.ReserveStock(ctx, "ball-y", "SH", 1), domain.ErrVariantNotFound)
		assert.ErrorIs(t, s.ReserveStock(ctx, "ball-y", "", 0), domain.ErrInvalidQuantity)
		assertAggregate(t, s, 5)
	})

	t.Run("ReleaseStock is the inverse of ReserveStock", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.ReserveStock(ctx, "bat-x", "SH", 3))
		assertAggregate(t, s, 2)

		require.NoError(t, s.ReleaseStock(ctx, "bat-x", "SH", 3))
		assertAggregate(t, s, 5)

		require.NoError(t, s.ReserveStock(ctx, "ball-y", "", 2))
		require.NoError(t, s.ReleaseStock(ctx, "ball-y", "", 2))
		n, err := s.GetAvailableStock(ctx, "ball-y", "")
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		assert.ErrorIs(t, s.ReleaseStock(ctx, "missing", "", 1), domain.ErrProductNotFound)
		assert.ErrorIs(t, s.ReleaseStock(ctx, "bat-x", "", 1), domain.ErrVariantRequired)
	})

	t.Run("SetStock overrides one variant", func(t *testing.T) {
		s := seed(t)
		require.NoError(t, s.SetStock(ctx, "bat-x", "LH", 7))
		assertAggregate(t, s, 10)

		assert.ErrorIs(t, s.SetStock(ctx, "bat-x", "", 100), domain.ErrVariantRequired)
		assertAggregate(t, s, 10)

		require.NoError(t, s.SetStock(ctx, "ball-y", "", 1))
		n, err := s.GetAvailableStock(ctx, "ball-y", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("PutProduct replaces variants", func(t *testing.T) {
		s := seed(t)
		p := batX()
		p.SizeVariants = []domain.SizeVariant{{Size: "SH", Stock: 1}}
		require.NoError(t, s.PutProduct(ctx, p))

		got, err := s.GetProduct(ctx, "bat-x")
		require.NoError(t, err)
		assert.Len(t, got.SizeVariants, 1)
		assert.Equal(t, 1, got.Stock)
		_, err = s.GetAvailableStock(ctx, "bat-x", "LH")
		assert.ErrorIs(t, err, domain.ErrVariantNotFound)
	})

	t.Run("concurrent reservations of the last units", func(t *testing.T) {
		s := seed(t)

		const workers = 8
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			refused   atomic.Int32
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ReserveStock(ctx, "bat-x", "SH", 2)
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, domain.ErrInsufficientStock):
					refused.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), succeeded.Load())
		assert.Equal(t, int32(workers-1), refused.Load())
		n, err := s.GetAvailableStock(ctx, "bat-x", "SH")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assertAggregate(t, s, 3)
	})

	t.Run("concurrent writers to different sizes keep the aggregate", func(t *testing.T) {
		s := seed(t)

		// SH has 3 units and LH 2: one worker per unit, so no reservation
		// is ever refused
		sizes := []string{"SH", "SH", "SH", "LH", "LH"}
		var wg sync.WaitGroup
		for _, size := range sizes {
			wg.Add(1)
			go func(size string) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					if err := s.ReserveStock(ctx, "bat-x", size, 1); err != nil {
						t.Errorf("reserve %s: %v", size, err)
						return
					}
					if err := s.ReleaseStock(ctx, "bat-x", size, 1); err != nil {
						t.Errorf("release %s: %v", size, err)
						return
					}
				}
				if err := s.ReserveStock(ctx, "bat-x", size, 1); err != nil {
					t.Errorf("final reserve %s: %v", size, err)
				}
			}(size)
		}
		wg.Wait()

		assertAggregate(t, s, 0)
	})

	t.Run("SetStock racing reservations of another size", func(t *testing.T) {
		s := seed(t)

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.ReserveStock(ctx, "bat-x", "SH", 1); err != nil {
					t.Errorf("reserve SH: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SetStock(ctx, "bat-x", "LH", 6); err != nil {
				t.Errorf("set LH: %v", err)
			}
		}()
		wg.Wait()

		assertAggregate(t, s, 6)
	})
}
