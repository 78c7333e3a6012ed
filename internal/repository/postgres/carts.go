package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	q := s.conn(ctx)

	var c domain.Cart
	err := q.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("cart", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, cart_id, product_id, quantity, added_at FROM cart_lines WHERE cart_id = $1 ORDER BY seq`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		c.Lines = append(c.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &c, nil
}

func (s *Store) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if _, err := s.ensureCart(ctx, userID); err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

func (s *Store) ensureCart(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.conn(ctx).QueryRow(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id`,
		uuid.NewString(), userID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure cart: %w", err)
	}
	return id, nil
}

// AddLine relies on the (cart_id, product_id) unique constraint to merge quantities.
func (s *Store) AddLine(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	cartID, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	q := s.conn(ctx)
	_, err = q.Exec(ctx,
		`INSERT INTO cart_lines (id, cart_id, product_id, quantity, added_at) VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`,
		uuid.NewString(), cartID, productID, qty)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.NotFound("product", productID)
		}
		if pgCode(err) == numericOutOfRange {
			return nil, domain.Invalid("quantity", "merged line quantity out of range")
		}
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}
	if _, err := q.Exec(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}
	return s.GetCart(ctx, userID)
}

func (s *Store) UpdateLine(ctx context.Context, userID, lineID string, qty int) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE cart_lines cl SET quantity = $3
		 FROM carts c
		 WHERE cl.cart_id = c.id AND c.user_id = $1 AND cl.id = $2`,
		userID, lineID, qty)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("cart line", lineID)
	}
	return s.touchCart(ctx, userID)
}

func (s *Store) RemoveLine(ctx context.Context, userID, lineID string) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM cart_lines cl USING carts c
		 WHERE cl.cart_id = c.id AND c.user_id = $1 AND cl.id = $2`,
		userID, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("cart line", lineID)
	}
	return s.touchCart(ctx, userID)
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM cart_lines cl USING carts c WHERE cl.cart_id = c.id AND c.user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return s.touchCart(ctx, userID)
}

func (s *Store) touchCart(ctx context.Context, userID string) error {
	if _, err := s.conn(ctx).Exec(ctx, `UPDATE carts SET updated_at = NOW() WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
