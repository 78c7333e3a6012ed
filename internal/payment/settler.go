package payment

import (
	"context"

	"github.com/fjod/fulfillment/internal/domain"
)

// Settler reports the outcome of charging an order. Real gateways live behind it.
type Settler interface {
	Settle(ctx context.Context, order *domain.Order, method domain.PaymentMethod) (domain.PaymentStatus, error)
}

// AlwaysComplete is the mocked settlement path: every charge succeeds.
type AlwaysComplete struct{}

func (AlwaysComplete) Settle(context.Context, *domain.Order, domain.PaymentMethod) (domain.PaymentStatus, error) {
	return domain.PaymentStatusCompleted, nil
}
