package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Category is the product family shown in the storefront.
type Category string

const (
	CategoryBats        Category = "bats"
	CategoryBalls       Category = "balls"
	CategoryPads        Category = "pads"
	CategoryGloves      Category = "gloves"
	CategoryHelmets     Category = "helmets"
	CategoryShoes       Category = "shoes"
	CategoryClothing    Category = "clothing"
	CategoryAccessories Category = "accessories"
	CategoryStumps      Category = "stumps"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBats, CategoryBalls, CategoryPads, CategoryGloves, CategoryHelmets,
		CategoryShoes, CategoryClothing, CategoryAccessories, CategoryStumps:
		return true
	}
	return false
}

// SizeVariant is one size of a product with its own stock count.
type SizeVariant struct {
	Size  string `json:"size" yaml:"size"`
	Stock int    `json:"stock" yaml:"stock"`
}

// Product is a catalog entry. When SizeVariants is non-empty, Stock is the
// sum of the variant stocks and is never set on its own.
type Product struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Description  string           `json:"description" yaml:"description"`
	Category     Category         `json:"category" yaml:"category"`
	Brand        string           `json:"brand" yaml:"brand"`
	ImageURL     string           `json:"image_url" yaml:"image_url"`
	Price        decimal.Decimal  `json:"price" yaml:"price"`
	OldPrice     *decimal.Decimal `json:"old_price,omitempty" yaml:"old_price,omitempty"`
	Stock        int              `json:"stock" yaml:"stock"`
	SizeVariants []SizeVariant    `json:"size_variants,omitempty" yaml:"size_variants,omitempty"`
}

// HasVariants reports whether stock is tracked per size.
func (p *Product) HasVariants() bool {
	return len(p.SizeVariants) > 0
}

// Variant returns the index of the given size, or -1.
func (p *Product) Variant(size string) int {
	for i := range p.SizeVariants {
		if p.SizeVariants[i].Size == size {
			return i
		}
	}
	return -1
}

// RecomputeStock derives the aggregate stock from the variants.
func (p *Product) RecomputeStock() {
	if !p.HasVariants() {
		return
	}
	total := 0
	for _, v := range p.SizeVariants {
		total += v.Stock
	}
	p.Stock = total
}

// AvailableStock returns the stock for the requested size, or the aggregate
// when no size is given.
func (p *Product) AvailableStock(size string) (int, error) {
	if size == "" {
		return p.Stock, nil
	}
	i := p.Variant(size)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrVariantNotFound, p.ID, size)
	}
	return p.SizeVariants[i].Stock, nil
}

// CheckLine verifies that (size) addresses a sellable unit of p.
func (p *Product) CheckLine(size string) error {
	if size == "" {
		if p.HasVariants() {
			return fmt.Errorf("%w: %s", ErrVariantRequired, p.ID)
		}
		return nil
	}
	if p.Variant(size) < 0 {
		return fmt.Errorf("%w: %s/%s", ErrVariantNotFound, p.ID, size)
	}
	return nil
}

// Validate checks catalog input before it is stored.
func (p *Product) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: product %s: name is required", ErrInvalidArgument, p.ID)
	}
	if p.Category != "" && !p.Category.Valid() {
		return fmt.Errorf("%w: product %s: unknown category %q", ErrInvalidArgument, p.ID, p.Category)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: product %s: price must be >= 0", ErrInvalidArgument, p.ID)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: product %s: stock must be >= 0", ErrInvalidArgument, p.ID)
	}
	seen := make(map[string]struct{}, len(p.SizeVariants))
	for _, v := range p.SizeVariants {
		if v.Size == "" {
			return fmt.Errorf("%w: product %s: size must not be empty", ErrInvalidArgument, p.ID)
		}
		if v.Stock < 0 {
			return fmt.Errorf("%w: product %s size %s: stock must be >= 0", ErrInvalidArgument, p.ID, v.Size)
		}
		if _, dup := seen[v.Size]; dup {
			return fmt.Errorf("%w: product %s: duplicate size %s", ErrInvalidArgument, p.ID, v.Size)
		}
		seen[v.Size] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	c := *p
	if p.OldPrice != nil {
		old := *p.OldPrice
		c.OldPrice = &old
	}
	if p.SizeVariants != nil {
		c.SizeVariants = append([]SizeVariant(nil), p.SizeVariants...)
	}
	return &c
}
