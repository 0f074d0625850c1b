package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/cache"
	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/rs/zerolog"
)

type HistoryService struct {
	store   repository.Store
	cache   *cache.Guarded
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewHistoryService(store repository.Store, c *cache.Guarded, m *metrics.Metrics, logger zerolog.Logger) *HistoryService {
	if c == nil {
		c = cache.Guard(nil)
	}
	return &HistoryService{
		store:   store,
		cache:   c,
		metrics: m,
		logger:  logger.With().Str("component", "history_service").Logger(),
	}
}

// GetCustomerCarts returns the customer's paid carts, oldest payment first.
// A paid cart without lines means the stored history is broken and is
// reported as ErrProductNotFound.
func (s *HistoryService) GetCustomerCarts(ctx context.Context, customer string) ([]*domain.Cart, error) {
	var carts []*domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		carts, err = tx.Carts().PaidCarts(ctx, customer)
		if err != nil {
			return err
		}
		for _, c := range carts {
			if c.IsEmpty() {
				return fmt.Errorf("%w: paid cart %d has no lines", domain.ErrProductNotFound, c.ID)
			}
		}
		return nil
	})
	s.metrics.CartOp("history", outcome(err))
	logResult(s.logger, "history", customer, err)
	if err != nil {
		return nil, err
	}
	return carts, nil
}

// GetAllCarts lists every cart with a non-zero total, paid or not.
func (s *HistoryService) GetAllCarts(ctx context.Context) ([]*domain.Cart, error) {
	var carts []*domain.Cart
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		carts, err = tx.Carts().NonEmptyCarts(ctx)
		return err
	})
	s.metrics.CartOp("list_all", outcome(err))
	if err != nil {
		s.logger.Error().Err(err).Msg("list all carts failed")
		return nil, err
	}
	return carts, nil
}

// DeleteAllCarts removes every cart and line. Failure is logged and reported
// as false.
func (s *HistoryService) DeleteAllCarts(ctx context.Context) bool {
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Carts().DeleteAll(ctx)
	})
	s.metrics.CartOp("delete_all", outcome(err))
	if err != nil {
		s.logger.Error().Err(err).Msg("delete all carts failed")
		return false
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if errFlush := s.cache.Flush(flushCtx); errFlush != nil {
		s.logger.Warn().Err(errFlush).Msg("cache flush failed")
	}

	s.logger.Info().Msg("all carts deleted")
	return true
}
