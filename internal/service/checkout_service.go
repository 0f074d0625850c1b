package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/cache"
	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/rs/zerolog"
)

type CheckoutService struct {
	store   repository.Store
	cache   *cache.Guarded
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCheckoutService(store repository.Store, c *cache.Guarded, m *metrics.Metrics, logger zerolog.Logger) *CheckoutService {
	if c == nil {
		c = cache.Guard(nil)
	}
	return &CheckoutService{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  logger.With().Str("component", "checkout_service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Checkout pays the customer's active cart. Every line is checked against the
// current stock first; only when all of them fit is the cart marked paid and
// the stock deducted. The whole run is one transaction, so any failure leaves
// the cart unpaid and the stock untouched.
func (s *CheckoutService) Checkout(ctx context.Context, customer string) (*domain.Cart, error) {
	started := time.Now()

	var paid *domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		carts := tx.Carts()
		cart, err := carts.LockActiveCart(ctx, customer)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		// fixed order so concurrent checkouts lock product rows the same way
		lines := make([]domain.Line, len(cart.Lines))
		copy(lines, cart.Lines)
		sort.Slice(lines, func(i, j int) bool { return lines[i].Model < lines[j].Model })

		inv := tx.Inventory()
		for _, l := range lines {
			stock, err := inv.GetStock(ctx, l.Model)
			if err != nil {
				return err
			}
			if l.Quantity > stock {
				return fmt.Errorf("%w: %s has %d left, cart holds %d", domain.ErrProductSold, l.Model, stock, l.Quantity)
			}
		}

		paidAt := s.now()
		if err := carts.MarkPaid(ctx, cart.ID, paidAt); err != nil {
			return err
		}

		for _, l := range lines {
			if err := inv.DecrementStock(ctx, l.Model, l.Quantity); err != nil {
				s.metrics.CommitConflict()
				s.logger.Error().
					Err(err).
					Str("customer", customer).
					Int64("cart_id", cart.ID).
					Str("model", l.Model).
					Int("quantity", l.Quantity).
					Msg("stock decrement failed after cart was marked paid, rolling back checkout")
				if errors.Is(err, inventory.ErrInsufficientStock) {
					return fmt.Errorf("%w: stock of %s changed during checkout", domain.ErrProductSold, l.Model)
				}
				return fmt.Errorf("checkout commit of cart %d: %w", cart.ID, err)
			}
		}

		cart.Paid = true
		cart.PaymentDate = &paidAt

		event, err := newCartPaidOutboxEvent(cart)
		if err != nil {
			return err
		}
		if err := carts.AddOutboxEvent(ctx, event); err != nil {
			return err
		}

		paid = cart
		return nil
	})

	s.metrics.Checkout(outcome(err), started)
	logResult(s.logger, "checkout", customer, err)
	if err != nil {
		return nil, err
	}

	s.invalidateCache(customer)
	s.logger.Info().
		Str("customer", customer).
		Int64("cart_id", paid.ID).
		Str("total", paid.Total.StringFixed(2)).
		Int("lines", len(paid.Lines)).
		Msg("cart paid")
	return paid, nil
}

func (s *CheckoutService) invalidateCache(customer string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, customer); err != nil {
		s.logger.Warn().Err(err).Str("customer", customer).Msg("cache invalidate failed")
	}
}
