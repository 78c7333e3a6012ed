package cart

import (
	"context"
	"sync"

	"github.com/fjod/fulfillment/internal/cache"
	"github.com/fjod/fulfillment/internal/domain"
)

// MockCache is an in-memory CartCache that records calls.
type MockCache struct {
	mu      sync.RWMutex
	data    map[string]*domain.Cart
	GetErr  error
	Sets    int
	Deletes int
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string]*domain.Cart)}
}

func (m *MockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.data[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c.Clone(), nil
}

func (m *MockCache) Set(_ context.Context, userID string, c *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sets++
	m.data[userID] = c.Clone()
	return nil
}

func (m *MockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes++
	delete(m.data, userID)
	return nil
}

func (m *MockCache) cached(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[userID]
	return ok
}
