package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/techTenzen/Cricket/internal/domain"
)

// SeedFile is the YAML layout accepted by the seed command.
type SeedFile struct {
	Products []*domain.Product `yaml:"products"`
}

// LoadSeedFile reads and validates a catalog file.
func LoadSeedFile(path string) ([]*domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(file.Products))
	for i, p := range file.Products {
		if p == nil {
			return nil, fmt.Errorf("%w: product #%d is empty", domain.ErrInvalidArgument, i+1)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate product id %s", domain.ErrInvalidArgument, p.ID)
		}
		seen[p.ID] = true
	}
	return file.Products, nil
}

// Seed creates or replaces every product in the store.
func Seed(ctx context.Context, store Store, products []*domain.Product) error {
	for _, p := range products {
		if err := store.PutProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return nil
}
