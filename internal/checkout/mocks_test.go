package checkout

import (
	"context"
	"sync"

	"github.com/fjod/fulfillment/internal/cart"
	"github.com/fjod/fulfillment/internal/repository/memory"
)

// racyStore steals the whole stock of one product right before reserving it,
// simulating a concurrent checkout that won the race after validation.
type racyStore struct {
	*memory.Catalog
	mu    sync.Mutex
	steal string
}

func (r *racyStore) Reserve(ctx context.Context, productID string, qty int) error {
	r.mu.Lock()
	if productID == r.steal {
		if n, err := r.Catalog.Peek(ctx, productID); err == nil && n > 0 {
			_ = r.Catalog.Reserve(ctx, productID, n)
		}
		r.steal = ""
	}
	r.mu.Unlock()
	return r.Catalog.Reserve(ctx, productID, qty)
}

// failingClearCarts wraps the cart engine and fails Clear.
type failingClearCarts struct {
	*cart.Service
	err error
}

func (f *failingClearCarts) Clear(context.Context, string) error {
	return f.err
}
