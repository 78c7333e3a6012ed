package stock

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/fulfillment/internal/domain"
)

var errStoreDown = errors.New("store down")

// fakeStore keeps stock in a map and can be told to fail releases.
type fakeStore struct {
	mu          sync.Mutex
	stock       map[string]int
	failRelease bool
	calls       []string
}

func newFakeStore(stock map[string]int) *fakeStore {
	return &fakeStore{stock: stock}
}

func (f *fakeStore) Reserve(_ context.Context, productID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "reserve:"+productID)
	n, ok := f.stock[productID]
	if !ok {
		return domain.NotFound("product", productID)
	}
	if n < qty {
		return domain.InsufficientStock(productID, qty, n)
	}
	f.stock[productID] = n - qty
	return nil
}

func (f *fakeStore) Release(_ context.Context, productID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "release:"+productID)
	if f.failRelease {
		return errStoreDown
	}
	if _, ok := f.stock[productID]; !ok {
		return domain.NotFound("product", productID)
	}
	f.stock[productID] += qty
	return nil
}

func (f *fakeStore) Peek(_ context.Context, productID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.stock[productID]
	if !ok {
		return 0, domain.NotFound("product", productID)
	}
	return n, nil
}

func (f *fakeStore) get(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}
