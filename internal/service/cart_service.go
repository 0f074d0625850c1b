package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/cache"
	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// a concurrent checkout can pay the cart between our insert and our lock
const maxActiveCartAttempts = 3

// upper bound for a shared active-cart load
const flightTimeout = 5 * time.Second

var errActiveCartContention = errors.New("active cart kept changing")

type CartService struct {
	store   repository.Store
	cache   *cache.Guarded
	sfg     singleflight.Group // Prevents cache stampede
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewCartService(store repository.Store, c *cache.Guarded, m *metrics.Metrics, logger zerolog.Logger) *CartService {
	if c == nil {
		c = cache.Guard(nil)
	}
	return &CartService{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  logger.With().Str("component", "cart_service").Logger(),
	}
}

// GetOrCreateActiveCart returns the customer's unpaid cart, creating an empty
// one first if needed.
func (s *CartService) GetOrCreateActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		cart, err = lockOrCreateActiveCart(ctx, tx.Carts(), customer)
		return err
	})
	s.record("get_or_create", customer, err)
	if err != nil {
		return nil, err
	}

	s.invalidateCache(customer)
	return cart, nil
}

// AddLine puts one unit of model into the customer's active cart. The line
// keeps the price and category the product had when it was first added.
func (s *CartService) AddLine(ctx context.Context, customer, model string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		carts := tx.Carts()
		cart, err := lockOrCreateActiveCart(ctx, carts, customer)
		if err != nil {
			return err
		}

		product, err := tx.Inventory().GetProduct(ctx, model)
		if err != nil {
			return err
		}
		if product.Quantity == 0 {
			return fmt.Errorf("%w: %s", domain.ErrProductSold, model)
		}

		var unitPrice decimal.Decimal
		if i := cart.FindLine(model); i >= 0 {
			line := cart.Lines[i]
			if err := carts.UpdateLineQuantity(ctx, cart.ID, model, line.Quantity+1); err != nil {
				return err
			}
			unitPrice = line.Price
		} else {
			line := domain.Line{
				Model:    model,
				Quantity: 1,
				Category: product.Category,
				Price:    product.SellingPrice,
			}
			if err := carts.InsertLine(ctx, cart.ID, line); err != nil {
				return err
			}
			unitPrice = line.Price
		}

		return carts.UpdateTotal(ctx, cart.ID, cart.Total.Add(unitPrice))
	})
	s.record("add_line", customer, err)
	if err != nil {
		return err
	}

	s.invalidateCache(customer)
	return nil
}

// RemoveLine takes one unit of model out of the active cart and drops the
// line when its quantity reaches zero.
func (s *CartService) RemoveLine(ctx context.Context, customer, model string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		carts := tx.Carts()
		cart, err := carts.LockActiveCart(ctx, customer)
		if err != nil {
			return err
		}

		i := cart.FindLine(model)
		if i < 0 {
			return fmt.Errorf("%w: %s", domain.ErrProductNotInCart, model)
		}
		line := cart.Lines[i]

		if line.Quantity > 1 {
			err = carts.UpdateLineQuantity(ctx, cart.ID, model, line.Quantity-1)
		} else {
			err = carts.DeleteLine(ctx, cart.ID, model)
		}
		if err != nil {
			return err
		}

		return carts.UpdateTotal(ctx, cart.ID, nonNegative(cart.Total.Sub(line.Price)))
	})
	s.record("remove_line", customer, err)
	if err != nil {
		return err
	}

	s.invalidateCache(customer)
	return nil
}

// Clear empties the active cart. The cart itself stays active.
func (s *CartService) Clear(ctx context.Context, customer string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		carts := tx.Carts()
		cart, err := carts.LockActiveCart(ctx, customer)
		if err != nil {
			return err
		}
		if err := carts.DeleteLines(ctx, cart.ID); err != nil {
			return err
		}
		return carts.UpdateTotal(ctx, cart.ID, decimal.Zero)
	})
	s.record("clear", customer, err)
	if err != nil {
		return err
	}

	s.invalidateCache(customer)
	return nil
}

// GetActiveCart never fails for a customer without a cart: it returns an
// empty descriptor instead.
//
// Concurrent readers share one load. The flight key carries the cache
// generation, so a reader arriving after a write never joins a load that
// started before it. The load runs detached from the caller so one cancelled
// request does not fail the others.
func (s *CartService) GetActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	gen := s.cache.Generation(customer)
	key := fmt.Sprintf("%s#%d", customer, gen)

	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		cart, err := s.cache.Get(ctx, customer)
		if err == nil {
			s.metrics.CacheLookup("hit")
			return cart, nil
		}

		if errors.Is(err, cache.ErrCacheMiss) {
			s.metrics.CacheLookup("miss")
		} else {
			s.metrics.CacheLookup("error")
			s.logger.Warn().Err(err).Str("customer", customer).Msg("cache get failed")
		}

		cart, err = s.loadActiveCart(ctx, customer)
		if err != nil {
			return nil, err
		}

		if errSet := s.cache.SetIfCurrent(ctx, customer, gen, cart); errSet != nil {
			s.logger.Warn().Err(errSet).Str("customer", customer).Msg("cache set failed")
		}
		return cart, nil
	})
	s.record("get_active", customer, err)
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

func (s *CartService) loadActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	var cart *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		cart, err = tx.Carts().ActiveCart(ctx, customer)
		return err
	})
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewEmptyCart(customer), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func lockOrCreateActiveCart(ctx context.Context, carts repository.CartRepository, customer string) (*domain.Cart, error) {
	for attempt := 0; attempt < maxActiveCartAttempts; attempt++ {
		if err := carts.EnsureActiveCart(ctx, customer); err != nil {
			return nil, err
		}
		cart, err := carts.LockActiveCart(ctx, customer)
		if errors.Is(err, repository.ErrCartNotFound) {
			continue
		}
		return cart, err
	}
	return nil, fmt.Errorf("%w: no active cart for %s after %d attempts", errActiveCartContention, customer, maxActiveCartAttempts)
}

func (s *CartService) invalidateCache(customer string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, customer); err != nil {
		s.logger.Warn().Err(err).Str("customer", customer).Msg("cache invalidate failed")
	}
}

func (s *CartService) record(op, customer string, err error) {
	s.metrics.CartOp(op, outcome(err))
	logResult(s.logger, op, customer, err)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
