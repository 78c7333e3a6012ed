package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/google/uuid"
)

type Carts struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart // userID -> cart
}

func NewCarts() *Carts {
	return &Carts{carts: make(map[string]*domain.Cart)}
}

func (s *Carts) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, domain.NotFound("cart", userID)
	}
	return c.Clone(), nil
}

func (s *Carts) GetOrCreateCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(userID).Clone(), nil
}

func (s *Carts) getOrCreate(userID string) *domain.Cart {
	if c, ok := s.carts[userID]; ok {
		return c
	}
	now := time.Now().UTC()
	c := &domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.carts[userID] = c
	return c
}

// AddLine merges qty into the line for productID, creating the cart and the line as needed.
func (s *Carts) AddLine(_ context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreate(userID)
	now := time.Now().UTC()
	merged := false
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			if qty > math.MaxInt32-c.Lines[i].Quantity {
				return nil, domain.Invalid("quantity", "merged line quantity out of range")
			}
			c.Lines[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		c.Lines = append(c.Lines, domain.CartLine{
			ID:        uuid.NewString(),
			CartID:    c.ID,
			ProductID: productID,
			Quantity:  qty,
			AddedAt:   now,
		})
	}
	c.UpdatedAt = now
	return c.Clone(), nil
}

func (s *Carts) UpdateLine(_ context.Context, userID, lineID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		return domain.NotFound("cart line", lineID)
	}
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			c.Lines[i].Quantity = qty
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.NotFound("cart line", lineID)
}

func (s *Carts) RemoveLine(_ context.Context, userID, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		return domain.NotFound("cart line", lineID)
	}
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.NotFound("cart line", lineID)
}

func (s *Carts) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		return nil
	}
	c.Lines = nil
	c.UpdatedAt = time.Now().UTC()
	return nil
}
