package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is one line of a cart. UnitPrice is the catalog price captured
// when the line was first added.
type CartItem struct {
	ProductID string          `json:"product_id"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

// Subtotal is UnitPrice × Quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the live basket of a single user. ID names one lifetime of the
// cart record: a cart recreated after its record expired gets a new ID and
// starts again at version 0.
type Cart struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Items       []CartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewCart returns an empty cart for userID.
func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		ID:          uuid.NewString(),
		UserID:      userID,
		Items:       []CartItem{},
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Find returns the index of the (productID, size) line, or -1.
func (c *Cart) Find(productID, size string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].Size == size {
			return i
		}
	}
	return -1
}

// Recalculate derives TotalAmount from the lines.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	c.TotalAmount = total
}

// CheckoutKey identifies a checkout of this cart at its current version.
func (c *Cart) CheckoutKey() string {
	return fmt.Sprintf("cart-%s-v%d", c.ID, c.Version)
}

// Reset empties the cart in place; the record itself survives.
func (c *Cart) Reset(now time.Time) {
	c.Items = []CartItem{}
	c.TotalAmount = decimal.Zero
	c.UpdatedAt = now
}

// Clone returns a deep copy.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = append([]CartItem{}, c.Items...)
	return &cp
}
