package inventory

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryStore implements Store with in-memory storage
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product // model -> product
}

// NewMemoryStore creates a new in-memory inventory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, model string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[model]
	if !exists {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetStock(ctx context.Context, model string) (int, error) {
	p, err := s.GetProduct(ctx, model)
	if err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

func (s *MemoryStore) GetPrice(ctx context.Context, model string) (decimal.Decimal, error) {
	p, err := s.GetProduct(ctx, model)
	if err != nil {
		return decimal.Zero, err
	}
	return p.SellingPrice, nil
}

// DecrementStock checks and deducts under one lock, so two callers can never
// both take the last unit.
func (s *MemoryStore) DecrementStock(_ context.Context, model string, n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[model]
	if !exists {
		return ErrProductNotFound
	}
	if p.Quantity < n {
		return ErrInsufficientStock
	}
	p.Quantity -= n
	return nil
}

// SaveProduct sets the catalog entry for a product
func (s *MemoryStore) SaveProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := p
	s.products[p.Model] = &cp
	return nil
}

// DeleteProduct removes a product, as the catalog would when it is retired.
func (s *MemoryStore) DeleteProduct(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, model)
}

// Restock returns n units to model's stock. Unknown models are ignored.
func (s *MemoryStore) Restock(model string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.products[model]; ok {
		p.Quantity += n
	}
}
