package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/order-intake/internal/domain"
)

// CartCache holds the active-cart view per customer. Entries are dropped on
// every write to the cart; paid carts are never cached.
type CartCache interface {
	Get(ctx context.Context, customer string) (*domain.Cart, error)
	Set(ctx context.Context, customer string, cart *domain.Cart) error
	Delete(ctx context.Context, customer string) error
	// Flush drops every cached cart
	Flush(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache always misses. Used when no cache is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, string, *domain.Cart) error   { return nil }
func (NopCache) Delete(context.Context, string) error              { return nil }
func (NopCache) Flush(context.Context) error                       { return nil }
