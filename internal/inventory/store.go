package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/shopspring/decimal"
)

// Common errors returned by the store
var (
	ErrProductNotFound   = fmt.Errorf("inventory: %w", domain.ErrProductNotFound)
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Store gives the cart core read access to products and the single write it
// is allowed to make: deducting stock at checkout.
type Store interface {
	// GetProduct returns the current catalog entry for model
	GetProduct(ctx context.Context, model string) (*domain.Product, error)

	// GetStock returns the units currently available
	GetStock(ctx context.Context, model string) (int, error)

	// GetPrice returns the current selling price
	GetPrice(ctx context.Context, model string) (decimal.Decimal, error)

	// DecrementStock removes n units, failing with ErrInsufficientStock
	// without side effects when fewer than n are available
	DecrementStock(ctx context.Context, model string, n int) error

	// SaveProduct inserts or replaces a catalog entry (fixtures and seeding)
	SaveProduct(ctx context.Context, p domain.Product) error
}
