package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_PaysCartAndDeductsStock(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	fixed := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	f.checkout.now = func() time.Time { return fixed }

	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	cart, err := f.cart.GetActiveCart(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.True(t, cart.Total.Equal(dec("199.99")))

	paid, err := f.checkout.Checkout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	require.NotNil(t, paid.PaymentDate)
	assert.True(t, paid.PaymentDate.Equal(fixed))
	assert.True(t, paid.Total.Equal(dec("199.99")))

	assert.Equal(t, 4, stockOf(t, f.inv, "iPhone13"))

	active, err := f.cart.GetActiveCart(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, active.Lines)
	assert.True(t, active.Total.IsZero())
	assert.Nil(t, active.PaymentDate)

	history, err := f.history.GetCustomerCarts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Total.Equal(dec("199.99")))
}

func TestCheckout_RecordsCartPaidEvent(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	require.NoError(t, f.cart.AddLine(ctx, "alice", "Pixel8"))
	paid, err := f.checkout.Checkout(ctx, "alice")
	require.NoError(t, err)

	events, err := f.store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventCartPaid, events[0].EventType)
	assert.Equal(t, "alice", events[0].AggregateID)

	var ev CartPaidEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	assert.Equal(t, events[0].EventID, ev.EventID)
	assert.Equal(t, paid.ID, ev.CartID)
	assert.True(t, ev.Total.Equal(dec("299.49")))
	assert.Len(t, ev.Lines, 2)
}

func TestCheckout_InsufficientStockChangesNothing(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	seed(t, f.inv, "A", "Laptop", 2, "10.00")
	seed(t, f.inv, "B", "Laptop", 5, "20.00")

	require.NoError(t, f.cart.AddLine(ctx, "alice", "A"))
	require.NoError(t, f.cart.AddLine(ctx, "alice", "A"))
	require.NoError(t, f.cart.AddLine(ctx, "alice", "B"))
	// someone else bought one A in the meantime
	seed(t, f.inv, "A", "Laptop", 1, "10.00")

	_, err := f.checkout.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrProductSold)

	assert.Equal(t, 1, stockOf(t, f.inv, "A"))
	assert.Equal(t, 5, stockOf(t, f.inv, "B"))

	cart, err := f.cart.GetActiveCart(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, cart.Paid)
	assert.Len(t, cart.Lines, 2)

	history, err := f.history.GetCustomerCarts(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, history)

	events, err := f.store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCheckout_EmptyCart(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	// no cart at all
	_, err := f.checkout.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	// a cart whose lines were all removed
	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	require.NoError(t, f.cart.Clear(ctx, "alice"))
	_, err = f.checkout.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckout_ProductRemovedFromCatalog(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	require.NoError(t, f.cart.AddLine(ctx, "alice", "Pixel8"))
	f.inv.DeleteProduct("Pixel8")

	_, err := f.checkout.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, 5, stockOf(t, f.inv, "iPhone13"))
}

func TestCheckout_UsesSnapshotPrice(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.AddLine(ctx, "alice", "Pixel8"))
	seed(t, f.inv, "Pixel8", "Smartphone", 3, "500.00")

	paid, err := f.checkout.Checkout(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, paid.Total.Equal(dec("99.50")))
	assert.Equal(t, 2, stockOf(t, f.inv, "Pixel8"))
}

func TestCheckout_NextAddStartsFreshCart(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	first, err := f.checkout.Checkout(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, f.cart.AddLine(ctx, "alice", "Pixel8"))
	active, err := f.cart.GetActiveCart(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, active.ID)
	require.Len(t, active.Lines, 1)
	assert.Equal(t, "Pixel8", active.Lines[0].Model)

	// the paid cart is frozen
	history, err := f.history.GetCustomerCarts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "iPhone13", history[0].Lines[0].Model)
}

func TestCheckout_ConcurrentBuyersForLastUnit(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	seed(t, f.inv, "Last", "Laptop", 1, "1000.00")

	customers := []string{"alice", "bob", "carol", "dave"}
	for _, c := range customers {
		require.NoError(t, f.cart.AddLine(ctx, c, "Last"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid, sold := 0, 0
	for _, c := range customers {
		wg.Add(1)
		go func(customer string) {
			defer wg.Done()
			_, err := f.checkout.Checkout(ctx, customer)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				paid++
			} else if assert.ErrorIs(t, err, domain.ErrProductSold) {
				sold++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, paid)
	assert.Equal(t, 3, sold)
	assert.Equal(t, 0, stockOf(t, f.inv, "Last"))
}

// staleInventory reports plenty of stock but refuses to deduct one model,
// as happens when another buyer wins the race between check and deduct.
type staleInventory struct {
	inventory.Store
	failModel string
}

func (s staleInventory) GetStock(context.Context, string) (int, error) {
	return 1000, nil
}

func (s staleInventory) DecrementStock(ctx context.Context, model string, n int) error {
	if model == s.failModel {
		return inventory.ErrInsufficientStock
	}
	return s.Store.DecrementStock(ctx, model, n)
}

type staleTx struct {
	repository.Tx
	failModel string
}

func (t staleTx) Inventory() inventory.Store {
	return staleInventory{Store: t.Tx.Inventory(), failModel: t.failModel}
}

type staleStore struct {
	repository.Store
	failModel string
}

func (s staleStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, staleTx{Tx: tx, failModel: s.failModel})
	})
}

func TestCheckout_DecrementFailureAfterPaidRollsBack(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cart.AddLine(ctx, "alice", "iPhone13"))
	require.NoError(t, f.cart.AddLine(ctx, "alice", "Pixel8"))

	// iPhone13 sorts before Pixel8, so its decrement succeeds first
	svc := NewCheckoutService(staleStore{Store: f.store, failModel: "Pixel8"}, f.guard, f.metrics, zerolog.Nop())
	_, err := svc.Checkout(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrProductSold)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitConflicts))

	assert.Equal(t, 5, stockOf(t, f.inv, "iPhone13"), "earlier decrement must be undone")
	assert.Equal(t, 3, stockOf(t, f.inv, "Pixel8"))

	cart, err := f.cart.GetActiveCart(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, cart.Paid)
	assert.Len(t, cart.Lines, 2)
}

func TestCheckout_StorageFailure(t *testing.T) {
	svc := NewCheckoutService(failingStore{err: errStorageDown}, nil, nil, zerolog.Nop())

	_, err := svc.Checkout(context.Background(), "alice")
	require.ErrorIs(t, err, errStorageDown)
	assert.False(t, domain.IsDomainError(err))
}
