package cache

import (
	"context"
	"errors"

	"github.com/fjod/fulfillment/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop never hits. It is used when Redis is not configured.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (Nop) Set(context.Context, string, *domain.Cart) error   { return nil }
func (Nop) Delete(context.Context, string) error              { return nil }
