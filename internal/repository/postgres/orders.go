package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, user_id, total_price, status, COALESCE(idempotency_key, ''), created_at, updated_at`

// CreateOrder writes the order and its lines in one transaction.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		var key any
		if o.IdempotencyKey != "" {
			key = o.IdempotencyKey
		}
		_, err := q.Exec(ctx,
			`INSERT INTO orders (id, user_id, total_price, status, idempotency_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, o.UserID, o.TotalPrice, string(o.Status), key, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.Conflict("order idempotency key", o.IdempotencyKey)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		batch := &pgx.Batch{}
		for i, l := range o.Lines {
			batch.Queue(
				`INSERT INTO order_lines (id, order_id, position, product_id, quantity, unit_price)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				l.ID, o.ID, i, l.ProductID, l.Quantity, l.UnitPrice)
		}
		if err := q.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.scanOrder(s.conn(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if err := s.loadLines(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	o, err := s.scanOrder(s.conn(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("order idempotency key", key)
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	if err := s.loadLines(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]*domain.Order, int, error) {
	var where []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := s.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			orderColumns, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, limit)
	for rows.Next() {
		o, err := s.scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	if err := s.loadLines(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.conn(ctx).QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound("order", id)
	}
	if err != nil {
		return fmt.Errorf("query order status: %w", err)
	}
	return &domain.Error{Kind: domain.ErrConflict, Entity: "order", ID: id, Detail: "status is " + current}
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("order", id)
	}
	return nil
}

func (s *Store) scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var status string
	if err := row.Scan(&o.ID, &o.UserID, &o.TotalPrice, &status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (s *Store) loadLines(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price FROM order_lines
		 WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		o := byID[l.OrderID]
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}
