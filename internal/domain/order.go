package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped},
	OrderStatusShipped: {OrderStatusDelivered},
}

// CanTransitionTo reports whether from -> to is an edge of the order state machine.
func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus validates a client supplied status.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", Invalid("status", fmt.Sprintf("unknown order status %q", s))
	}
	return st, nil
}

type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal is quantity times the frozen unit price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID             string
	UserID         string
	TotalPrice     decimal.Decimal
	Status         OrderStatus
	IdempotencyKey string
	Lines          []OrderLine
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	errNoLines       = errors.New("order has no lines")
	errTotalMismatch = errors.New("order total does not match its lines")
)

// Validate checks that the order has lines and that its total is the sum of its lines.
func (o *Order) Validate() error {
	if len(o.Lines) == 0 {
		return errNoLines
	}
	sum := decimal.Zero
	for _, l := range o.Lines {
		if l.Quantity < 1 {
			return fmt.Errorf("order line for product %s has quantity %d", l.ProductID, l.Quantity)
		}
		sum = sum.Add(l.Subtotal())
	}
	if !sum.Equal(o.TotalPrice) {
		return fmt.Errorf("%w: total %s, lines %s", errTotalMismatch, o.TotalPrice.StringFixed(PriceScale), sum.StringFixed(PriceScale))
	}
	return nil
}

// StockLines returns the order lines as ledger lines sorted by product id.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, StockLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	return &cp
}

type OrderFilter struct {
	UserID string
	Status OrderStatus
}

// Matches reports whether o passes the filter; empty fields match everything.
func (f OrderFilter) Matches(o *Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

type OrderPage struct {
	Items  []*Order
	Total  int
	Offset int
	Limit  int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// NormalizePage clamps offset and limit to sane bounds.
func NormalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return offset, limit
}
