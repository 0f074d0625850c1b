package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps carts and the outbox in process memory. Transactions are
// serialized by a single mutex. On error carts and the outbox are restored from
// a snapshot and stock writes made through the Tx are reversed one by one, so
// catalog writes made directly on the inventory are kept.
type MemoryStore struct {
	mu          sync.Mutex
	inv         *inventory.MemoryStore
	carts       map[int64]*domain.Cart
	nextCartID  int64
	outbox      []*OutboxEvent
	nextEventID int64
}

func NewMemoryStore(inv *inventory.MemoryStore) *MemoryStore {
	return &MemoryStore{
		inv:   inv,
		carts: make(map[int64]*domain.Cart),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cartsSnap := cloneCarts(s.carts)
	nextCartID, outboxLen, nextEventID := s.nextCartID, len(s.outbox), s.nextEventID
	var undo []func()

	committed := false
	defer func() {
		if committed {
			return
		}
		s.carts = cartsSnap
		s.nextCartID = nextCartID
		s.outbox = s.outbox[:outboxLen]
		s.nextEventID = nextEventID
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	if err := fn(ctx, memoryTx{s: s, undo: &undo}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt != nil {
			continue
		}
		cp := *e
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range s.outbox {
		if e.ID == id {
			e.ProcessedAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	s    *MemoryStore
	undo *[]func()
}

func (t memoryTx) Carts() CartRepository {
	return memoryCarts{t.s}
}

func (t memoryTx) Inventory() inventory.Store {
	return txInventory{MemoryStore: t.s.inv, undo: t.undo}
}

// txInventory journals the stock writes of one transaction.
type txInventory struct {
	*inventory.MemoryStore
	undo *[]func()
}

func (i txInventory) DecrementStock(ctx context.Context, model string, n int) error {
	if err := i.MemoryStore.DecrementStock(ctx, model, n); err != nil {
		return err
	}
	*i.undo = append(*i.undo, func() { i.MemoryStore.Restock(model, n) })
	return nil
}

func (i txInventory) SaveProduct(ctx context.Context, p domain.Product) error {
	prev, err := i.MemoryStore.GetProduct(ctx, p.Model)
	if err != nil && !errors.Is(err, inventory.ErrProductNotFound) {
		return err
	}
	if err := i.MemoryStore.SaveProduct(ctx, p); err != nil {
		return err
	}
	*i.undo = append(*i.undo, func() {
		if prev == nil {
			i.MemoryStore.DeleteProduct(p.Model)
			return
		}
		_ = i.MemoryStore.SaveProduct(context.Background(), *prev)
	})
	return nil
}

// memoryCarts runs with MemoryStore.mu already held by InTx.
type memoryCarts struct {
	s *MemoryStore
}

func (r memoryCarts) active(customer string) *domain.Cart {
	for _, c := range r.s.carts {
		if c.Customer == customer && !c.Paid {
			return c
		}
	}
	return nil
}

func (r memoryCarts) ActiveCart(_ context.Context, customer string) (*domain.Cart, error) {
	c := r.active(customer)
	if c == nil {
		return nil, ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (r memoryCarts) LockActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	return r.ActiveCart(ctx, customer)
}

func (r memoryCarts) EnsureActiveCart(_ context.Context, customer string) error {
	if r.active(customer) != nil {
		return nil
	}
	r.s.nextCartID++
	r.s.carts[r.s.nextCartID] = &domain.Cart{
		ID:       r.s.nextCartID,
		Customer: customer,
		Total:    decimal.Zero,
		Lines:    []domain.Line{},
	}
	return nil
}

func (r memoryCarts) InsertLine(_ context.Context, cartID int64, line domain.Line) error {
	c, ok := r.s.carts[cartID]
	if !ok {
		return ErrCartNotFound
	}
	if c.FindLine(line.Model) >= 0 {
		return ErrDuplicateLine
	}
	c.Lines = append(c.Lines, line)
	return nil
}

func (r memoryCarts) UpdateLineQuantity(_ context.Context, cartID int64, model string, quantity int) error {
	c, ok := r.s.carts[cartID]
	if !ok {
		return ErrLineNotFound
	}
	i := c.FindLine(model)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines[i].Quantity = quantity
	return nil
}

func (r memoryCarts) DeleteLine(_ context.Context, cartID int64, model string) error {
	c, ok := r.s.carts[cartID]
	if !ok {
		return ErrLineNotFound
	}
	i := c.FindLine(model)
	if i < 0 {
		return ErrLineNotFound
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return nil
}

func (r memoryCarts) DeleteLines(_ context.Context, cartID int64) error {
	if c, ok := r.s.carts[cartID]; ok {
		c.Lines = []domain.Line{}
	}
	return nil
}

func (r memoryCarts) UpdateTotal(_ context.Context, cartID int64, total decimal.Decimal) error {
	c, ok := r.s.carts[cartID]
	if !ok {
		return ErrCartNotFound
	}
	c.Total = total
	return nil
}

func (r memoryCarts) MarkPaid(_ context.Context, cartID int64, paidAt time.Time) error {
	c, ok := r.s.carts[cartID]
	if !ok || c.Paid {
		return ErrCartNotFound
	}
	c.Paid = true
	c.PaymentDate = &paidAt
	return nil
}

func (r memoryCarts) PaidCarts(_ context.Context, customer string) ([]*domain.Cart, error) {
	carts := make([]*domain.Cart, 0)
	for _, c := range r.s.carts {
		if c.Customer == customer && c.Paid {
			carts = append(carts, cloneCart(c))
		}
	}
	sort.Slice(carts, func(i, j int) bool {
		if !carts[i].PaymentDate.Equal(*carts[j].PaymentDate) {
			return carts[i].PaymentDate.Before(*carts[j].PaymentDate)
		}
		return carts[i].ID < carts[j].ID
	})
	return carts, nil
}

func (r memoryCarts) NonEmptyCarts(_ context.Context) ([]*domain.Cart, error) {
	carts := make([]*domain.Cart, 0)
	for _, c := range r.s.carts {
		if !c.Total.IsZero() {
			carts = append(carts, cloneCart(c))
		}
	}
	sort.Slice(carts, func(i, j int) bool { return carts[i].ID < carts[j].ID })
	return carts, nil
}

func (r memoryCarts) DeleteAll(_ context.Context) error {
	r.s.carts = make(map[int64]*domain.Cart)
	return nil
}

func (r memoryCarts) AddOutboxEvent(_ context.Context, event *OutboxEvent) error {
	r.s.nextEventID++
	event.ID = r.s.nextEventID
	cp := *event
	r.s.outbox = append(r.s.outbox, &cp)
	return nil
}

func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Lines = make([]domain.Line, len(c.Lines))
	copy(cp.Lines, c.Lines)
	if c.PaymentDate != nil {
		t := *c.PaymentDate
		cp.PaymentDate = &t
	}
	return &cp
}

func cloneCarts(carts map[int64]*domain.Cart) map[int64]*domain.Cart {
	out := make(map[int64]*domain.Cart, len(carts))
	for id, c := range carts {
		out[id] = cloneCart(c)
	}
	return out
}
