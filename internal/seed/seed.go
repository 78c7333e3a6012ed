// Package seed loads a product catalog from YAML.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type File struct {
	Products []Product `yaml:"products"`
}

type Product struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	SKU   string `yaml:"sku"`
	Price string `yaml:"price"`
	Stock int    `yaml:"stock"`
}

type Catalog interface {
	UpsertProduct(ctx context.Context, p *domain.Product) error
}

func Parse(r io.Reader) ([]*domain.Product, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Products))
	out := make([]*domain.Product, 0, len(f.Products))
	for i, p := range f.Products {
		if p.ID == "" {
			return nil, fmt.Errorf("product #%d: %w", i+1, domain.Invalid("id", "is required"))
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("product %s: %w", p.ID, domain.Invalid("id", "is duplicated"))
		}
		seen[p.ID] = true

		price, err := decimal.NewFromString(p.Price)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("product %s: %w", p.ID, domain.Invalid("price", "must be a non-negative decimal"))
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("product %s: %w", p.ID, domain.Invalid("stock", "must not be negative"))
		}
		sku := p.SKU
		if sku == "" {
			sku = p.ID
		}
		out = append(out, &domain.Product{
			ID:    p.ID,
			Name:  p.Name,
			SKU:   sku,
			Price: domain.NormalizePrice(price),
			Stock: p.Stock,
		})
	}
	return out, nil
}

// Load upserts every product of the seed file into catalog and returns how many it wrote.
// Running it again against a live catalog leaves stock untouched.
func Load(ctx context.Context, catalog Catalog, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	products, err := Parse(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	for _, p := range products {
		if err := catalog.UpsertProduct(ctx, p); err != nil {
			return 0, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
