package cache

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/fjod/go_cart/order-intake/internal/domain"
)

const generationStripes = 256

// Guarded counts invalidations per customer so a cart loaded before a write
// is never left in the cache after that write's invalidation. Every service
// that reads or invalidates the same cache must share one Guarded.
type Guarded struct {
	next CartCache

	mu   sync.Mutex
	gens [generationStripes]uint64
}

// Guard wraps c, or returns it unchanged when it is already guarded.
func Guard(c CartCache) *Guarded {
	if g, ok := c.(*Guarded); ok {
		return g
	}
	if c == nil {
		c = NopCache{}
	}
	return &Guarded{next: c}
}

// Generation is read before loading from storage and handed to SetIfCurrent.
// Customers share stripes, so a collision only costs a skipped Set.
func (g *Guarded) Generation(customer string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[stripe(customer)]
}

func (g *Guarded) Get(ctx context.Context, customer string) (*domain.Cart, error) {
	return g.next.Get(ctx, customer)
}

func (g *Guarded) Set(ctx context.Context, customer string, cart *domain.Cart) error {
	return g.next.Set(ctx, customer, cart)
}

// SetIfCurrent stores cart only if no invalidation happened since gen was
// read. An invalidation that lands while the write is in flight removes the
// entry again.
func (g *Guarded) SetIfCurrent(ctx context.Context, customer string, gen uint64, cart *domain.Cart) error {
	if g.Generation(customer) != gen {
		return nil
	}
	if err := g.next.Set(ctx, customer, cart); err != nil {
		return err
	}
	if g.Generation(customer) != gen {
		return g.next.Delete(ctx, customer)
	}
	return nil
}

func (g *Guarded) Delete(ctx context.Context, customer string) error {
	g.mu.Lock()
	g.gens[stripe(customer)]++
	g.mu.Unlock()
	return g.next.Delete(ctx, customer)
}

func (g *Guarded) Flush(ctx context.Context) error {
	g.mu.Lock()
	for i := range g.gens {
		g.gens[i]++
	}
	g.mu.Unlock()
	return g.next.Flush(ctx)
}

func stripe(customer string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(customer))
	return int(h.Sum32() % generationStripes)
}
