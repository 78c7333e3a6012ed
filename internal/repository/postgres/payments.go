package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, order_id, amount, method, status, created_at`

// CreatePayment leans on the order_id unique constraint so two concurrent
// inserts for one order cannot both succeed.
func (s *Store) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := s.conn(ctx).Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OrderID, p.Amount, string(p.Method), string(p.Status), p.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return domain.PaymentAlreadyExists(p.OrderID)
	case isForeignKeyViolation(err):
		return domain.NotFound("order", p.OrderID)
	default:
		return fmt.Errorf("insert payment: %w", err)
	}
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.conn(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return p, nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p, err := scanPayment(s.conn(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("payment for order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment by order: %w", err)
	}
	return p, nil
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("payment", id)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var method, status string
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &method, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
