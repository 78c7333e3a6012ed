package payment

import (
	"context"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/fjod/fulfillment/internal/repository/memory"
)

type declineSettler struct{}

func (declineSettler) Settle(context.Context, *domain.Order, domain.PaymentMethod) (domain.PaymentStatus, error) {
	return domain.PaymentStatusFailed, nil
}

// statusFailOrders fails every status update after the order is loaded.
type statusFailOrders struct {
	*memory.Orders
	err error
}

func (s *statusFailOrders) UpdateOrderStatus(context.Context, string, domain.OrderStatus, domain.OrderStatus) error {
	return s.err
}
