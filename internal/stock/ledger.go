// Package stock owns every mutation of a product's on-hand quantity.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/txn"
	"go.uber.org/zap"
)

// Store is the backend that applies reservations atomically per product.
type Store interface {
	// Reserve decrements stock by qty if at least qty is on hand, otherwise
	// returns a domain InsufficientStock error and changes nothing.
	Reserve(ctx context.Context, productID string, qty int) error

	// Release increments stock by qty. There is no upper bound.
	Release(ctx context.Context, productID string, qty int) error

	// Peek returns the current stock. The value may be stale by the time it is used.
	Peek(ctx context.Context, productID string) (int, error)
}

type Ledger struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLedger(store Store, logger *zap.Logger, m *metrics.Metrics) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger, metrics: m}
}

func validQuantity(qty int) error {
	if qty < 1 {
		return domain.Invalid("quantity", "must be at least 1")
	}
	return nil
}

func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if err := validQuantity(qty); err != nil {
		return err
	}
	if err := l.store.Reserve(ctx, productID, qty); err != nil {
		l.metrics.StockOp("reserve", resultOf(err))
		return wrap("reserve", productID, err)
	}
	l.metrics.StockOp("reserve", "ok")
	return nil
}

func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	if err := validQuantity(qty); err != nil {
		return err
	}
	if err := l.store.Release(ctx, productID, qty); err != nil {
		l.metrics.StockOp("release", resultOf(err))
		return wrap("release", productID, err)
	}
	l.metrics.StockOp("release", "ok")
	return nil
}

func (l *Ledger) Peek(ctx context.Context, productID string) (int, error) {
	n, err := l.store.Peek(ctx, productID)
	if err != nil {
		return 0, wrap("peek", productID, err)
	}
	return n, nil
}

// ReserveAll reserves every line in ascending product id order. If any line
// fails, the lines this call already reserved are released before returning.
func (l *Ledger) ReserveAll(ctx context.Context, lines []domain.StockLine) error {
	sorted, err := normalize(lines)
	if err != nil {
		return err
	}
	for i, line := range sorted {
		if err := l.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
			l.undo(ctx, sorted[:i])
			return err
		}
	}
	return nil
}

// ReleaseAll releases every line in ascending product id order. It keeps going
// after a failure and reports all of them. Inside a compensating unit each
// released line is reserved again if the unit fails, so a retried caller
// never releases the same line twice.
func (l *Ledger) ReleaseAll(ctx context.Context, lines []domain.StockLine) error {
	sorted, err := normalize(lines)
	if err != nil {
		return err
	}
	var errs []error
	for _, line := range sorted {
		if err := l.Release(ctx, line.ProductID, line.Quantity); err != nil {
			errs = append(errs, err)
			continue
		}
		txn.OnRollback(ctx, "re-reserve "+line.ProductID, func(ctx context.Context) error {
			return l.Reserve(ctx, line.ProductID, line.Quantity)
		})
	}
	return errors.Join(errs...)
}

func (l *Ledger) undo(ctx context.Context, reserved []domain.StockLine) {
	ctx = context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := l.Release(ctx, line.ProductID, line.Quantity); err != nil {
			l.logger.Error("failed to release partial reservation",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

// normalize merges duplicate products and sorts by product id so concurrent
// multi-line reservations always touch products in the same order.
func normalize(lines []domain.StockLine) ([]domain.StockLine, error) {
	byProduct := make(map[string]int, len(lines))
	for _, line := range lines {
		if err := validQuantity(line.Quantity); err != nil {
			return nil, err
		}
		byProduct[line.ProductID] += line.Quantity
	}
	out := make([]domain.StockLine, 0, len(byProduct))
	for id, qty := range byProduct {
		out = append(out, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func wrap(op, productID string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%s stock for product %s: %w", op, productID, err)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
