package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is a customer's shopping cart. A customer has at most one unpaid cart;
// paid carts are frozen and form the purchase history.
type Cart struct {
	ID          int64           `json:"id"`
	Customer    string          `json:"customer"`
	Paid        bool            `json:"paid"`
	PaymentDate *time.Time      `json:"payment_date,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Lines       []Line          `json:"lines"`
}

// Line holds one product model inside a cart. Category and Price are copied
// from the product when the line is first inserted and never refreshed.
type Line struct {
	Model    string          `json:"model"`
	Quantity int             `json:"quantity"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

// NewEmptyCart is the descriptor returned when a customer has no active cart.
func NewEmptyCart(customer string) *Cart {
	return &Cart{
		Customer: customer,
		Total:    decimal.Zero,
		Lines:    []Line{},
	}
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// FindLine returns the index of the line for model, or -1.
func (c *Cart) FindLine(model string) int {
	for i := range c.Lines {
		if c.Lines[i].Model == model {
			return i
		}
	}
	return -1
}

// LinesTotal recomputes the total from the line snapshots.
func (c *Cart) LinesTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}
