package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/go_cart/order-intake/internal/cache"
	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	err     error
	gets    int
	flushed bool
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, customer string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[customer]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, customer string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.carts[customer] = cart
	return nil
}

func (m *mockCache) Delete(_ context.Context, customer string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, customer)
	return m.err
}

func (m *mockCache) Flush(context.Context) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts = make(map[string]*domain.Cart)
	m.flushed = true
	return m.err
}

func (m *mockCache) cached(customer string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[customer]
	return ok
}

// failingStore simulates a storage outage.
type failingStore struct {
	err error
}

func (f failingStore) InTx(context.Context, func(ctx context.Context, tx repository.Tx) error) error {
	return f.err
}

func (f failingStore) GetUnprocessedEvents(context.Context, int) ([]*repository.OutboxEvent, error) {
	return nil, f.err
}

func (f failingStore) MarkEventAsProcessed(context.Context, int64) error {
	return f.err
}

func (f failingStore) Close() error {
	return nil
}

var errStorageDown = errors.New("connection reset by peer")

type fixture struct {
	inv      *inventory.MemoryStore
	store    *repository.MemoryStore
	cache    *mockCache
	guard    *cache.Guarded
	metrics  *metrics.Metrics
	cart     *CartService
	checkout *CheckoutService
	history  *HistoryService
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	inv := inventory.NewMemoryStore()
	seed(t, inv, "iPhone13", "Smartphone", 5, "199.99")
	seed(t, inv, "Pixel8", "Smartphone", 3, "99.50")
	seed(t, inv, "Dyson", "Appliance", 0, "450.00")

	store := repository.NewMemoryStore(inv)
	c := newMockCache()
	g := cache.Guard(c)
	m := metrics.New()
	log := zerolog.Nop()

	return &fixture{
		inv:      inv,
		store:    store,
		cache:    c,
		guard:    g,
		metrics:  m,
		cart:     NewCartService(store, g, m, log),
		checkout: NewCheckoutService(store, g, m, log),
		history:  NewHistoryService(store, g, m, log),
	}
}

func seed(t *testing.T, inv inventory.Store, model, category string, quantity int, price string) {
	t.Helper()
	require.NoError(t, inv.SaveProduct(context.Background(), domain.Product{
		Model:        model,
		Category:     category,
		Quantity:     quantity,
		SellingPrice: decimal.RequireFromString(price),
	}))
}

func stockOf(t *testing.T, inv inventory.Store, model string) int {
	t.Helper()
	n, err := inv.GetStock(context.Background(), model)
	require.NoError(t, err)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireTotalMatchesLines(t *testing.T, cart *domain.Cart) {
	t.Helper()
	require.True(t, cart.Total.Equal(cart.LinesTotal()),
		"total %s != sum of lines %s", cart.Total, cart.LinesTotal())
	for _, l := range cart.Lines {
		require.GreaterOrEqual(t, l.Quantity, 1)
	}
}
