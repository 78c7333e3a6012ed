// Package memory holds the in-process backends used for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/fulfillment/internal/domain"
)

// Catalog stores products and their stock. Each product has its own mutex so
// reservations are linearizable per product without a global lock.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*productEntry
}

type productEntry struct {
	mu sync.Mutex
	p  domain.Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]*productEntry)}
}

// UpsertProduct inserts a product with its initial stock. An existing product keeps
// its current stock and only takes the new descriptive fields and price.
func (c *Catalog) UpsertProduct(_ context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *p
	cp.Price = domain.NormalizePrice(cp.Price)
	cp.UpdatedAt = now
	if e, ok := c.products[p.ID]; ok {
		e.mu.Lock()
		cp.CreatedAt = e.p.CreatedAt
		cp.Stock = e.p.Stock
		e.p = cp
		e.mu.Unlock()
		return nil
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	c.products[p.ID] = &productEntry{p: cp}
	return nil
}

func (c *Catalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.p
	return &p, nil
}

func (c *Catalog) Reserve(_ context.Context, productID string, qty int) error {
	e, err := c.entry(productID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.p.Stock < qty {
		return domain.InsufficientStock(productID, qty, e.p.Stock)
	}
	e.p.Stock -= qty
	e.p.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Catalog) Release(_ context.Context, productID string, qty int) error {
	e, err := c.entry(productID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.p.Stock += qty
	e.p.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Catalog) Peek(_ context.Context, productID string) (int, error) {
	e, err := c.entry(productID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Stock, nil
}

func (c *Catalog) entry(id string) (*productEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.products[id]
	if !ok {
		return nil, domain.NotFound("product", id)
	}
	return e, nil
}
