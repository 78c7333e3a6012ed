package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/jackc/pgx/v5"
)

// UpsertProduct inserts a product with its initial stock. An existing product only
// has its descriptive fields and price refreshed; its stock moves through Reserve
// and Release alone.
func (s *Store) UpsertProduct(ctx context.Context, p *domain.Product) error {
	query := `INSERT INTO products (id, name, sku, price, stock, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	          ON CONFLICT (id) DO UPDATE
	          SET name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
	              updated_at = NOW()`

	_, err := s.conn(ctx).Exec(ctx, query, p.ID, p.Name, p.SKU, domain.NormalizePrice(p.Price), p.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("product sku", p.SKU)
		}
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `SELECT id, name, sku, price, stock, created_at, updated_at FROM products WHERE id = $1`

	var p domain.Product
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.SKU, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// Reserve decrements stock with a conditional update, so the row lock makes
// concurrent reservations of one product serialize.
func (s *Store) Reserve(ctx context.Context, productID string, qty int) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1 AND stock >= $2`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	available, err := s.Peek(ctx, productID)
	if err != nil {
		return err
	}
	return domain.InsufficientStock(productID, qty, available)
}

func (s *Store) Release(ctx context.Context, productID string, qty int) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`,
		productID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("product", productID)
	}
	return nil
}

func (s *Store) Peek(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.conn(ctx).QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.NotFound("product", productID)
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return n, nil
}
