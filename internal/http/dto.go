package http

import (
	"time"

	"github.com/fjod/fulfillment/internal/domain"
)

// Money travels as a fixed two-decimal string so clients never see float rounding.

type CartLineDTO struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type CartResponseDTO struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Lines     []CartLineDTO `json:"lines"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type OrderLineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

// OrderResponseDTO carries the order's payment, or null while it is unpaid.
type OrderResponseDTO struct {
	ID         string              `json:"id"`
	UserID     string              `json:"user_id"`
	TotalPrice string              `json:"total_price"`
	Status     string              `json:"status"`
	Lines      []OrderLineDTO      `json:"lines"`
	Payment    *PaymentResponseDTO `json:"payment"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type OrderPageDTO struct {
	Items  []OrderResponseDTO `json:"items"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

type PaymentResponseDTO struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    string    `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func convertCart(c *domain.Cart) CartResponseDTO {
	lines := make([]CartLineDTO, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, CartLineDTO{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			AddedAt:   l.AddedAt,
		})
	}
	return CartResponseDTO{ID: c.ID, UserID: c.UserID, Lines: lines, UpdatedAt: c.UpdatedAt}
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	lines := make([]OrderLineDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineDTO{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(domain.PriceScale),
			Subtotal:  l.Subtotal().StringFixed(domain.PriceScale),
		})
	}
	return OrderResponseDTO{
		ID:         o.ID,
		UserID:     o.UserID,
		TotalPrice: o.TotalPrice.StringFixed(domain.PriceScale),
		Status:     o.Status.String(),
		Lines:      lines,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func convertPayment(p *domain.Payment) PaymentResponseDTO {
	return PaymentResponseDTO{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount.StringFixed(domain.PriceScale),
		Method:    string(p.Method),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}
}
