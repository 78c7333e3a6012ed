package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
)

type Orders struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	byKey  map[idemKey]string // (user, idempotency key) -> order id
}

type idemKey struct {
	userID string
	key    string
}

func NewOrders() *Orders {
	return &Orders{
		orders: make(map[string]*domain.Order),
		byKey:  make(map[idemKey]string),
	}
}

func (s *Orders) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return domain.Conflict("order", o.ID)
	}
	if o.IdempotencyKey != "" {
		k := idemKey{o.UserID, o.IdempotencyKey}
		if _, ok := s.byKey[k]; ok {
			return domain.Conflict("order idempotency key", o.IdempotencyKey)
		}
		s.byKey[k] = o.ID
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *Orders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (s *Orders) GetOrderByIdempotencyKey(_ context.Context, userID, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[idemKey{userID, key}]
	if !ok {
		return nil, domain.NotFound("order idempotency key", key)
	}
	return s.orders[id].Clone(), nil
}

// ListOrders returns orders matching filter, newest first.
func (s *Orders) ListOrders(_ context.Context, filter domain.OrderFilter, offset, limit int) ([]*domain.Order, int, error) {
	s.mu.RLock()
	matched := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if filter.Matches(o) {
			matched = append(matched, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return []*domain.Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// UpdateOrderStatus moves the order to `to` only if it is currently `from`.
func (s *Orders) UpdateOrderStatus(_ context.Context, id string, from, to domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.NotFound("order", id)
	}
	if o.Status != from {
		return &domain.Error{Kind: domain.ErrConflict, Entity: "order", ID: id, Detail: "status is " + o.Status.String()}
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Orders) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.NotFound("order", id)
	}
	if o.IdempotencyKey != "" {
		delete(s.byKey, idemKey{o.UserID, o.IdempotencyKey})
	}
	delete(s.orders, id)
	return nil
}
