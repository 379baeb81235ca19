package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batX() *Product {
	return &Product{
		ID:       "bat-x",
		Name:     "Bat-X English Willow",
		Category: CategoryBats,
		Price:    decimal.RequireFromString("249.99"),
		Stock:    999, // ignored when variants exist
		SizeVariants: []SizeVariant{
			{Size: "SH", Stock: 3},
			{Size: "LH", Stock: 2},
		},
	}
}

func TestProduct_RecomputeStock(t *testing.T) {
	p := batX()
	p.RecomputeStock()
	assert.Equal(t, 5, p.Stock)

	flat := &Product{ID: "ball-y", Name: "Ball-Y", Stock: 7}
	flat.RecomputeStock()
	assert.Equal(t, 7, flat.Stock, "flat products keep their own stock")
}

func TestProduct_AvailableStock(t *testing.T) {
	p := batX()
	p.RecomputeStock()

	n, err := p.AvailableStock("SH")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.AvailableStock("")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = p.AvailableStock("XL")
	assert.ErrorIs(t, err, ErrVariantNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProduct_CheckLine(t *testing.T) {
	p := batX()
	assert.NoError(t, p.CheckLine("LH"))
	assert.ErrorIs(t, p.CheckLine(""), ErrVariantRequired)
	assert.ErrorIs(t, p.CheckLine("XL"), ErrNotFound)

	flat := &Product{ID: "ball-y", Name: "Ball-Y"}
	assert.NoError(t, flat.CheckLine(""))
	assert.ErrorIs(t, flat.CheckLine("SH"), ErrVariantNotFound)
}

func TestProduct_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Product)
		wantErr bool
	}{
		{"valid", func(p *Product) {}, false},
		{"missing id", func(p *Product) { p.ID = "" }, true},
		{"missing name", func(p *Product) { p.Name = "" }, true},
		{"unknown category", func(p *Product) { p.Category = "rackets" }, true},
		{"negative price", func(p *Product) { p.Price = decimal.NewFromInt(-1) }, true},
		{"negative variant stock", func(p *Product) { p.SizeVariants[0].Stock = -1 }, true},
		{"duplicate size", func(p *Product) { p.SizeVariants[1].Size = "SH" }, true},
		{"empty size", func(p *Product) { p.SizeVariants[1].Size = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := batX()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProduct_CloneIsDeep(t *testing.T) {
	old := decimal.RequireFromString("299.99")
	p := batX()
	p.OldPrice = &old

	c := p.Clone()
	c.SizeVariants[0].Stock = 0
	*c.OldPrice = decimal.Zero

	assert.Equal(t, 3, p.SizeVariants[0].Stock)
	assert.True(t, p.OldPrice.Equal(old))
}

func TestCart_RecalculateAndFind(t *testing.T) {
	now := time.Now()
	c := NewCart("u1", now)
	assert.True(t, c.IsEmpty())

	c.Items = append(c.Items,
		CartItem{ProductID: "bat-x", Size: "SH", Quantity: 2, UnitPrice: decimal.RequireFromString("249.99")},
		CartItem{ProductID: "ball-y", Quantity: 3, UnitPrice: decimal.RequireFromString("12.50")},
	)
	c.Recalculate()
	assert.Equal(t, "537.48", c.TotalAmount.StringFixed(2))

	assert.Equal(t, 0, c.Find("bat-x", "SH"))
	assert.Equal(t, -1, c.Find("bat-x", "LH"))
	assert.Equal(t, 1, c.Find("ball-y", ""))

	c.Reset(now)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.TotalAmount.IsZero())
}

func TestCart_CheckoutKey(t *testing.T) {
	now := time.Now()
	a := NewCart("u1", now)
	b := NewCart("u1", now)
	require.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "a recreated cart is a new lifetime")
	assert.NotEqual(t, a.CheckoutKey(), b.CheckoutKey())

	key := a.CheckoutKey()
	assert.Equal(t, key, a.Clone().CheckoutKey())
	a.Version++
	assert.NotEqual(t, key, a.CheckoutKey())
}

func TestCanTransitionTo(t *testing.T) {
	all := []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusProcessing}:   true,
		{OrderStatusProcessing, OrderStatusShipped}:   true,
		{OrderStatusShipped, OrderStatusDelivered}:    true,
		{OrderStatusPending, OrderStatusCancelled}:    true,
		{OrderStatusProcessing, OrderStatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]OrderStatus{from, to}], CanTransitionTo(from, to), "%s -> %s", from, to)
		}
	}
}

func TestOrder_ApplyStatusStampsDelivery(t *testing.T) {
	o := &Order{Status: OrderStatusShipped}
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	o.ApplyStatus(OrderStatusDelivered, at)

	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, at, *o.DeliveredAt)
	assert.Equal(t, at, o.UpdatedAt)
	assert.True(t, o.Status.IsTerminal())
}

func TestAddress_Validate(t *testing.T) {
	a := Address{Street: "1 Lord's Rd", City: "London", State: "LDN", ZipCode: "NW8", Country: "UK"}
	assert.NoError(t, a.Validate())

	a.City = " "
	a.Country = ""
	err := a.Validate()
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "city, country")
}

func TestTypedErrors(t *testing.T) {
	stock := &StockError{ProductID: "bat-x", Size: "SH", Requested: 2, Available: 1}
	line := &LineError{ProductID: "bat-x", Size: "SH", Err: stock}
	wrapped := fmt.Errorf("checkout: %w", line)

	assert.ErrorIs(t, wrapped, ErrInsufficientStock)
	var se *StockError
	require.True(t, errors.As(wrapped, &se))
	assert.Equal(t, 1, se.Available)
	assert.Contains(t, wrapped.Error(), "bat-x/SH")

	te := &TransitionError{From: OrderStatusDelivered, To: OrderStatusCancelled}
	assert.ErrorIs(t, te, ErrInvalidTransition)

	u := Unavailable("reserve stock", errors.New("connection reset"))
	assert.ErrorIs(t, u, ErrUnavailable)
	assert.Contains(t, u.Error(), "connection reset")
}
