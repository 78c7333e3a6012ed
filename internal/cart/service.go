// Package cart is the per-user basket engine. Every mutation holds the user's
// cart lock, the same lock checkout takes.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fjod/fulfillment/internal/cache"
	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/lock"
	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxLineQuantity matches the INTEGER quantity columns.
const maxLineQuantity = math.MaxInt32

// Repository persists carts keyed by user.
type Repository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	// AddLine merges qty into the existing line for productID or appends a new line.
	AddLine(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error)
	UpdateLine(ctx context.Context, userID, lineID string, qty int) error
	RemoveLine(ctx context.Context, userID, lineID string) error
	ClearCart(ctx context.Context, userID string) error
}

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type StockPeeker interface {
	Peek(ctx context.Context, productID string) (int, error)
}

type Service struct {
	repo    Repository
	catalog Catalog
	stock   StockPeeker
	cache   cache.CartCache
	locker  lock.Locker
	logger  *zap.Logger
	metrics *metrics.Metrics
	sfg     singleflight.Group // Prevents cache stampede
}

func NewService(repo Repository, catalog Catalog, stock StockPeeker, c cache.CartCache, locker lock.Locker, l *zap.Logger, m *metrics.Metrics) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		stock:   stock,
		cache:   c,
		locker:  locker,
		logger:  l,
		metrics: m,
	}
}

type heldKey struct{ userID string }

// Hold takes the user's cart lock and returns a context that marks it held.
// Service calls made with that context do not lock again and read the
// repository directly.
func (s *Service) Hold(ctx context.Context, userID string) (context.Context, func(), error) {
	if held(ctx, userID) {
		return ctx, func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, lock.CartKey(userID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock cart of user %s: %w", userID, err)
	}
	return context.WithValue(ctx, heldKey{userID}, true), unlock, nil
}

func held(ctx context.Context, userID string) bool {
	v, _ := ctx.Value(heldKey{userID}).(bool)
	return v
}

func (s *Service) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	ctx, unlock, err := s.Hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.repo.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get or create cart: %w", err)
	}
	return c, nil
}

// Get returns the user's cart, or NotFound if it was never created.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	if held(ctx, userID) {
		return s.repo.GetCart(ctx, userID)
	}

	c, err := s.cache.Get(ctx, userID)
	if err == nil {
		s.metrics.CacheLookup("hit")
		return c, nil
	}
	if errors.Is(err, cache.ErrCacheMiss) {
		s.metrics.CacheLookup("miss")
	} else {
		s.metrics.CacheLookup("error")
		logger.WithContext(ctx, s.logger).Warn("cache get error", zap.String("user_id", userID), zap.Error(err))
	}

	// Filling the cache under the cart lock keeps a stale read from
	// overwriting a newer invalidation.
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		lctx, unlock, err := s.Hold(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		c, err := s.repo.GetCart(lctx, userID)
		if err != nil {
			return nil, err
		}
		if errSet := s.cache.Set(lctx, userID, c); errSet != nil {
			logger.WithContext(ctx, s.logger).Warn("cache set error", zap.String("user_id", userID), zap.Error(errSet))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

func (s *Service) AddLine(ctx context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	if err := validateLineInput("product_id", productID, qty); err != nil {
		return nil, err
	}

	ctx, unlock, err := s.Hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return nil, err
	}

	existing := 0
	current, err := s.repo.GetCart(ctx, userID)
	switch {
	case err == nil:
		if line, ok := current.LineForProduct(productID); ok {
			existing = line.Quantity
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if err := s.checkStock(ctx, productID, existing, qty); err != nil {
		return nil, err
	}

	c, err := s.repo.AddLine(ctx, userID, productID, qty)
	if err != nil {
		logger.WithContext(ctx, s.logger).Error("repo add line error", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("add line: %w", err)
	}
	s.invalidateCache(userID)
	return c, nil
}

func (s *Service) UpdateLine(ctx context.Context, userID, lineID string, qty int) (*domain.Cart, error) {
	if err := validateLineInput("line_id", lineID, qty); err != nil {
		return nil, err
	}

	ctx, unlock, err := s.Hold(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("cart line", lineID)
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	line, ok := current.Line(lineID)
	if !ok {
		return nil, domain.NotFound("cart line", lineID)
	}

	if err := s.checkStock(ctx, line.ProductID, 0, qty); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateLine(ctx, userID, lineID, qty); err != nil {
		logger.WithContext(ctx, s.logger).Error("repo update line error", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	s.invalidateCache(userID)
	return s.repo.GetCart(ctx, userID)
}

func (s *Service) RemoveLine(ctx context.Context, userID, lineID string) error {
	if lineID == "" {
		return domain.Invalid("line_id", "is required")
	}

	ctx, unlock, err := s.Hold(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.RemoveLine(ctx, userID, lineID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.WithContext(ctx, s.logger).Error("repo remove line error", zap.String("user_id", userID), zap.Error(err))
		}
		return err
	}
	s.invalidateCache(userID)
	return nil
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	ctx, unlock, err := s.Hold(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.ClearCart(ctx, userID); err != nil {
		logger.WithContext(ctx, s.logger).Error("repo clear cart error", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("clear cart: %w", err)
	}
	s.invalidateCache(userID)
	return nil
}

// checkStock is advisory. The authoritative check happens when checkout reserves.
// held+add is never computed, so it cannot wrap.
func (s *Service) checkStock(ctx context.Context, productID string, held, add int) error {
	available, err := s.stock.Peek(ctx, productID)
	if err != nil {
		return err
	}
	if add > available-held {
		return domain.InsufficientStock(productID, add, max(available-held, 0))
	}
	return nil
}

func (s *Service) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate error", zap.String("user_id", userID), zap.Error(err))
	}
}

func validateLineInput(idField, id string, qty int) error {
	if id == "" {
		return domain.Invalid(idField, "is required")
	}
	if qty < 1 {
		return domain.Invalid("quantity", "must be at least 1")
	}
	if qty > maxLineQuantity {
		return domain.Invalid("quantity", fmt.Sprintf("must be at most %d", maxLineQuantity))
	}
	return nil
}
