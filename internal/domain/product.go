package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry owned by the inventory. Only Quantity is ever
// modified by this module, and only by checkout.
type Product struct {
	Model        string
	Category     string
	Quantity     int
	SellingPrice decimal.Decimal
	ArrivalDate  time.Time
	Details      string
}
