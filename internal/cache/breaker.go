package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Interval         time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "cart-cache",
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		Interval:         time.Minute,
	}
}

// BreakerCache stops calling a failing cache for a while. While open, reads
// report a miss and writes are skipped, so callers fall through to storage.
type BreakerCache struct {
	next CartCache
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerCache(next CartCache, st BreakerSettings, logger zerolog.Logger) *BreakerCache {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1,
		Interval:    st.Interval,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache circuit breaker state changed")
		},
	})
	return &BreakerCache{next: next, cb: cb}
}

func (b *BreakerCache) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerCache) Get(ctx context.Context, customer string) (*domain.Cart, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Get(ctx, customer)
	})
	if isRejected(err) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (b *BreakerCache) Set(ctx context.Context, customer string, cart *domain.Cart) error {
	return b.run(func() error { return b.next.Set(ctx, customer, cart) })
}

func (b *BreakerCache) Delete(ctx context.Context, customer string) error {
	return b.run(func() error { return b.next.Delete(ctx, customer) })
}

func (b *BreakerCache) Flush(ctx context.Context) error {
	return b.run(func() error { return b.next.Flush(ctx) })
}

func (b *BreakerCache) run(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func isRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
