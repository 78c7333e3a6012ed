package outbox

import (
	"time"

	"github.com/fjod/fulfillment/internal/domain"
)

type OrderLinePayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreated struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	TotalPrice string             `json:"total_price"`
	Lines      []OrderLinePayload `json:"lines"`
	CreatedAt  time.Time          `json:"created_at"`
}

type OrderPaid struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
}

type OrderStatusChanged struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func OrderCreatedEvent(o *domain.Order) (Event, error) {
	lines := make([]OrderLinePayload, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLinePayload{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(domain.PriceScale),
		})
	}
	return NewEvent(AggregateOrder, o.ID, TypeOrderCreated, OrderCreated{
		OrderID:    o.ID,
		UserID:     o.UserID,
		TotalPrice: o.TotalPrice.StringFixed(domain.PriceScale),
		Lines:      lines,
		CreatedAt:  o.CreatedAt,
	})
}

func OrderPaidEvent(p *domain.Payment) (Event, error) {
	return NewEvent(AggregateOrder, p.OrderID, TypeOrderPaid, OrderPaid{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Amount:    p.Amount.StringFixed(domain.PriceScale),
		Method:    string(p.Method),
	})
}

// TransitionEvent picks order.cancelled for cancellations and order.status_changed otherwise.
func TransitionEvent(orderID string, from, to domain.OrderStatus) (Event, error) {
	eventType := TypeOrderStatusChanged
	if to == domain.OrderStatusCancelled {
		eventType = TypeOrderCancelled
	}
	return NewEvent(AggregateOrder, orderID, eventType, OrderStatusChanged{
		OrderID: orderID,
		From:    from.String(),
		To:      to.String(),
	})
}
