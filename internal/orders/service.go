// Package orders reads orders and drives their status through the state machine.
package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/lock"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/fjod/fulfillment/pkg/logger"
	"go.uber.org/zap"
)

type Repository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter, offset, limit int) ([]*domain.Order, int, error)
	// UpdateOrderStatus is a compare-and-set: it fails with a domain Conflict
	// error unless the stored status equals from.
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error
}

type Ledger interface {
	ReleaseAll(ctx context.Context, lines []domain.StockLine) error
}

type Service struct {
	repo    Repository
	ledger  Ledger
	locker  lock.Locker
	tx      txn.Transactor
	events  outbox.Recorder
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Deps struct {
	Repo    Repository
	Ledger  Ledger
	Locker  lock.Locker
	Tx      txn.Transactor
	Events  outbox.Recorder
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func NewService(d Deps) *Service {
	s := &Service{
		repo:    d.Repo,
		ledger:  d.Ledger,
		locker:  d.Locker,
		tx:      d.Tx,
		events:  d.Events,
		logger:  d.Logger,
		metrics: d.Metrics,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = outbox.Nop{}
	}
	if s.tx == nil {
		s.tx = txn.NewCompensating(s.logger)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, domain.Invalid("order_id", "is required")
	}
	return s.repo.GetOrder(ctx, id)
}

// List returns one page of orders matching filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.OrderFilter, offset, limit int) (*domain.OrderPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Invalid("status", "unknown order status "+filter.Status.String())
	}
	offset, limit = domain.NormalizePage(offset, limit)
	items, total, err := s.repo.ListOrders(ctx, filter, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return &domain.OrderPage{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// UpdateStatus is the administrative transition. It follows the state
// machine, refuses to mark an order paid, and routes cancellation through
// the same path as Cancel without the ownership check.
func (s *Service) UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, domain.Invalid("status", "unknown order status "+to.String())
	}

	unlock, err := s.locker.Lock(ctx, lock.OrderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if to == domain.OrderStatusCancelled {
		return s.cancel(ctx, o)
	}
	if to == domain.OrderStatusPaid || !domain.CanTransitionTo(o.Status, to) {
		return nil, domain.InvalidTransition(id, o.Status, to)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.transition(ctx, o, to); err != nil {
			return err
		}
		return s.record(ctx, o.ID, o.Status, to)
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.logger).Info("order status changed",
		zap.String("order_id", id), zap.String("from", o.Status.String()), zap.String("to", to.String()))
	return s.repo.GetOrder(ctx, id)
}

// Cancel lets the owner cancel a pending order. Stock for every line goes
// back to the ledger exactly once.
func (s *Service) Cancel(ctx context.Context, id, requestingUserID string) (*domain.Order, error) {
	unlock, err := s.locker.Lock(ctx, lock.OrderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != requestingUserID {
		s.metrics.Cancel("forbidden")
		return nil, domain.Forbidden("order", id)
	}
	return s.cancel(ctx, o)
}

// cancel expects the order lock to be held.
func (s *Service) cancel(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	log := logger.WithContext(ctx, s.logger).With(zap.String("order_id", o.ID))
	if o.Status != domain.OrderStatusPending {
		s.metrics.Cancel("invalid_transition")
		return nil, domain.InvalidTransition(o.ID, o.Status, domain.OrderStatusCancelled)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.transition(ctx, o, domain.OrderStatusCancelled); err != nil {
			return err
		}
		txn.OnRollback(ctx, "restore pending status", func(ctx context.Context) error {
			return s.repo.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusCancelled, domain.OrderStatusPending)
		})
		if err := s.ledger.ReleaseAll(ctx, o.StockLines()); err != nil {
			return fmt.Errorf("release stock of order %s: %w", o.ID, err)
		}
		return s.record(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	})
	if err != nil {
		s.metrics.Cancel(resultOf(err))
		if !errors.Is(err, domain.ErrInvalidTransition) {
			log.Error("cancel failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Cancel("ok")
	log.Info("order cancelled", zap.Int("lines", len(o.Lines)))
	return s.repo.GetOrder(ctx, o.ID)
}

// transition applies from -> to with compare-and-set. Losing the race is
// reported as an illegal transition from whatever status won.
func (s *Service) transition(ctx context.Context, o *domain.Order, to domain.OrderStatus) error {
	err := s.repo.UpdateOrderStatus(ctx, o.ID, o.Status, to)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("update status of order %s: %w", o.ID, err)
	}
	current, getErr := s.repo.GetOrder(ctx, o.ID)
	if getErr != nil {
		return domain.InvalidTransition(o.ID, o.Status, to)
	}
	return domain.InvalidTransition(o.ID, current.Status, to)
}

func (s *Service) record(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	evt, err := outbox.TransitionEvent(orderID, from, to)
	if err != nil {
		return err
	}
	if err := s.events.Record(ctx, evt); err != nil {
		return fmt.Errorf("record %s: %w", evt.EventType, err)
	}
	return nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
