package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept for prices and totals.
const PriceScale = 2

type Product struct {
	ID        string
	Name      string
	SKU       string
	Price     decimal.Decimal
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizePrice rounds a price to PriceScale digits.
func NormalizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PriceScale)
}

// StockLine is a quantity of one product handed to the stock ledger.
type StockLine struct {
	ProductID string
	Quantity  int
}
