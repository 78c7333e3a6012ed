// Package checkout turns a user's cart into a priced pending order and
// reserves its stock, all or nothing.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/internal/txn"
	"github.com/fjod/fulfillment/pkg/logger"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLen = 255

// Carts is the slice of the cart engine checkout needs.
type Carts interface {
	Hold(ctx context.Context, userID string) (context.Context, func(), error)
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Ledger interface {
	ReserveAll(ctx context.Context, lines []domain.StockLine) error
	ReleaseAll(ctx context.Context, lines []domain.StockLine) error
}

type Orders interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	DeleteOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
}

type Service struct {
	carts   Carts
	catalog Catalog
	ledger  Ledger
	orders  Orders
	events  outbox.Recorder
	tx      txn.Transactor
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Deps struct {
	Carts   Carts
	Catalog Catalog
	Ledger  Ledger
	Orders  Orders
	Events  outbox.Recorder
	Tx      txn.Transactor
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func NewService(d Deps) *Service {
	s := &Service{
		carts:   d.Carts,
		catalog: d.Catalog,
		ledger:  d.Ledger,
		orders:  d.Orders,
		events:  d.Events,
		tx:      d.Tx,
		logger:  d.Logger,
		metrics: d.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if s.events == nil {
		s.events = outbox.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tx == nil {
		s.tx = txn.NewCompensating(s.logger)
	}
	return s
}

// Checkout converts the user's cart into a pending order. A non-empty
// idempotencyKey that already produced an order returns that order unchanged.
func (s *Service) Checkout(ctx context.Context, userID, idempotencyKey string) (*domain.Order, error) {
	if userID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		return nil, domain.Invalid("idempotency_key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen))
	}
	log := logger.WithContext(ctx, s.logger).With(zap.String("user_id", userID))

	ctx, unlock, err := s.carts.Hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if idempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, userID, idempotencyKey)
		if err == nil {
			log.Info("duplicate checkout request", zap.String("idempotency_key", idempotencyKey), zap.String("order_id", existing.ID))
			s.metrics.Checkout("replayed")
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}

	var created *domain.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.placeOrder(ctx, userID, idempotencyKey)
		created = o
		return err
	})
	if err != nil {
		s.metrics.Checkout(resultOf(err))
		if isBusinessRejection(err) {
			log.Info("checkout rejected", zap.Error(err))
		} else {
			log.Error("checkout failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Checkout("ok")
	log.Info("order created", zap.String("order_id", created.ID), zap.String("total", created.TotalPrice.StringFixed(domain.PriceScale)))

	loaded, err := s.orders.GetOrder(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("reload order %s: %w", created.ID, err)
	}
	return loaded, nil
}

func (s *Service) placeOrder(ctx context.Context, userID, idempotencyKey string) (*domain.Order, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, domain.EmptyCart(userID)
	}

	order, err := s.priceCart(ctx, cart)
	if err != nil {
		return nil, err
	}
	order.IdempotencyKey = idempotencyKey
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	txn.OnRollback(ctx, "delete order", func(ctx context.Context) error {
		return s.orders.DeleteOrder(ctx, order.ID)
	})

	lines := order.StockLines()
	if err := s.ledger.ReserveAll(ctx, lines); err != nil {
		return nil, err
	}
	txn.OnRollback(ctx, "release stock", func(ctx context.Context) error {
		return s.ledger.ReleaseAll(ctx, lines)
	})

	evt, err := outbox.OrderCreatedEvent(order)
	if err != nil {
		return nil, err
	}
	if err := s.events.Record(ctx, evt); err != nil {
		return nil, fmt.Errorf("record %s: %w", evt.EventType, err)
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		return nil, err
	}
	return order, nil
}
