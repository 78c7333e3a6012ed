package memory

import (
	"context"
	"sync"

	"github.com/fjod/fulfillment/internal/domain"
)

// Payments enforces at most one payment per order, like the unique index in Postgres.
type Payments struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Payment
	byOrder map[string]string // orderID -> paymentID
}

func NewPayments() *Payments {
	return &Payments{
		byID:    make(map[string]*domain.Payment),
		byOrder: make(map[string]string),
	}
}

func (s *Payments) CreatePayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[p.OrderID]; ok {
		return domain.PaymentAlreadyExists(p.OrderID)
	}
	cp := *p
	s.byID[p.ID] = &cp
	s.byOrder[p.OrderID] = p.ID
	return nil
}

func (s *Payments) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, domain.NotFound("payment", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Payments) GetPaymentByOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, domain.NotFound("payment for order", orderID)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *Payments) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.NotFound("payment", id)
	}
	delete(s.byOrder, p.OrderID)
	delete(s.byID, id)
	return nil
}
