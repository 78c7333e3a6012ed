// Package payment applies a settled payment to a pending order.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/lock"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/fjod/fulfillment/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Orders interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to domain.OrderStatus) error
}

// Repository must reject a second payment for the same order with a
// domain PaymentAlreadyExists error, even under concurrent inserts.
type Repository interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	DeletePayment(ctx context.Context, id string) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)
}

type Service struct {
	orders   Orders
	payments Repository
	settler  Settler
	locker   lock.Locker
	tx       txn.Transactor
	events   outbox.Recorder
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Deps struct {
	Orders   Orders
	Payments Repository
	Settler  Settler
	Locker   lock.Locker
	Tx       txn.Transactor
	Events   outbox.Recorder
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func NewService(d Deps) *Service {
	s := &Service{
		orders:   d.Orders,
		payments: d.Payments,
		settler:  d.Settler,
		locker:   d.Locker,
		tx:       d.Tx,
		events:   d.Events,
		logger:   d.Logger,
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.settler == nil {
		s.settler = AlwaysComplete{}
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

// Pay charges the order total with method and marks the order paid. The
// payment and the status change persist together or not at all.
func (s *Service) Pay(ctx context.Context, orderID, method string) (*domain.Payment, error) {
	if orderID == "" {
		return nil, domain.Invalid("order_id", "is required")
	}
	m, err := domain.ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.logger).With(zap.String("order_id", orderID))

	unlock, err := s.locker.Lock(ctx, lock.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var paid *domain.Payment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.apply(ctx, orderID, m)
		paid = p
		return err
	})
	if err != nil {
		s.metrics.Payment(resultOf(err))
		if resultOf(err) == "error" {
			log.Error("payment failed", zap.Error(err))
		} else {
			log.Info("payment rejected", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Payment(paid.Status.String())
	log.Info("order paid", zap.String("payment_id", paid.ID), zap.String("amount", paid.Amount.StringFixed(domain.PriceScale)))
	return paid, nil
}

func (s *Service) apply(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPending {
		return nil, domain.InvalidOrderState(orderID, o.Status)
	}

	_, err = s.payments.GetPaymentByOrder(ctx, orderID)
	if err == nil {
		return nil, domain.PaymentAlreadyExists(orderID)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up payment: %w", err)
	}

	status, err := s.settler.Settle(ctx, o, method)
	if err != nil {
		return nil, fmt.Errorf("settle order %s: %w", orderID, err)
	}
	if status != domain.PaymentStatusCompleted {
		return nil, domain.PaymentDeclined(orderID, "settlement "+status.String())
	}

	p := &domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Amount:    o.TotalPrice,
		Method:    method,
		Status:    status,
		CreatedAt: s.now(),
	}
	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	txn.OnRollback(ctx, "delete payment", func(ctx context.Context) error {
		return s.payments.DeletePayment(ctx, p.ID)
	})

	if err := s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusPaid); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.InvalidOrderState(orderID, o.Status)
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	evt, err := outbox.OrderPaidEvent(p)
	if err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, evt); err != nil {
		return nil, fmt.Errorf("record %s: %w", evt.EventType, err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Payment, error) {
	if id == "" {
		return nil, domain.Invalid("payment_id", "is required")
	}
	return s.payments.GetPayment(ctx, id)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	if orderID == "" {
		return nil, domain.Invalid("order_id", "is required")
	}
	return s.payments.GetPaymentByOrder(ctx, orderID)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrInvalidOrderState):
		return "invalid_state"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
