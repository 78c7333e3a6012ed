package checkout

import (
	"context"

	"github.com/fjod/fulfillment/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// priceCart re-reads every product and freezes its current price into an
// order line. Any line above current stock rejects the whole cart before
// anything is written.
func (s *Service) priceCart(ctx context.Context, cart *domain.Cart) (*domain.Order, error) {
	now := s.now()
	order := &domain.Order{
		ID:        uuid.NewString(),
		UserID:    cart.UserID,
		Status:    domain.OrderStatusPending,
		Lines:     make([]domain.OrderLine, 0, len(cart.Lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	total := decimal.Zero
	for _, line := range cart.Lines {
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if line.Quantity > p.Stock {
			return nil, domain.InsufficientStock(p.ID, line.Quantity, p.Stock)
		}
		ol := domain.OrderLine{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: p.ID,
			Quantity:  line.Quantity,
			UnitPrice: domain.NormalizePrice(p.Price),
		}
		total = total.Add(ol.Subtotal())
		order.Lines = append(order.Lines, ol)
	}
	order.TotalPrice = total
	return order, nil
}
