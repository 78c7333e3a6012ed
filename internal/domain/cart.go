package domain

import "time"

type Cart struct {
	ID        string
	UserID    string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartLine struct {
	ID        string
	CartID    string
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Line returns the line with the given id.
func (c *Cart) Line(lineID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ID == lineID {
			return l, true
		}
	}
	return CartLine{}, false
}

// LineForProduct returns the line holding productID.
func (c *Cart) LineForProduct(productID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// Clone returns a deep copy so callers cannot alias stored lines.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = append([]CartLine(nil), c.Lines...)
	return &cp
}
