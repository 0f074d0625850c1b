package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/fjod/go_cart/order-intake/internal/inventory"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound  = domain.ErrCartNotFound
	ErrLineNotFound  = errors.New("cart line not found")
	ErrDuplicateLine = errors.New("cart line already exists")
)

const EventCartPaid = "cart_paid"

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	EventID     string
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// CartRepository is the transaction-scoped view of cart storage. Every method
// must be called from inside Store.InTx.
type CartRepository interface {
	// ActiveCart returns the customer's unpaid cart with its lines
	ActiveCart(ctx context.Context, customer string) (*domain.Cart, error)

	// LockActiveCart is ActiveCart that also serializes other writers of the
	// same cart until the transaction ends
	LockActiveCart(ctx context.Context, customer string) (*domain.Cart, error)

	// EnsureActiveCart creates an empty unpaid cart unless one exists.
	// Concurrent calls never produce two active carts.
	EnsureActiveCart(ctx context.Context, customer string) error

	InsertLine(ctx context.Context, cartID int64, line domain.Line) error
	UpdateLineQuantity(ctx context.Context, cartID int64, model string, quantity int) error
	DeleteLine(ctx context.Context, cartID int64, model string) error
	DeleteLines(ctx context.Context, cartID int64) error
	UpdateTotal(ctx context.Context, cartID int64, total decimal.Decimal) error
	MarkPaid(ctx context.Context, cartID int64, paidAt time.Time) error

	// PaidCarts lists a customer's paid carts by payment date, then id
	PaidCarts(ctx context.Context, customer string) ([]*domain.Cart, error)

	// NonEmptyCarts lists every cart, paid or not, whose total is not zero
	NonEmptyCarts(ctx context.Context) ([]*domain.Cart, error)

	// DeleteAll removes every line and every cart
	DeleteAll(ctx context.Context) error

	AddOutboxEvent(ctx context.Context, event *OutboxEvent) error
}

// Tx groups the repositories that share one storage transaction.
type Tx interface {
	Carts() CartRepository
	Inventory() inventory.Store
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type Store interface {
	OutboxRepository

	// InTx runs fn in a transaction. If fn returns an error every change made
	// through tx is discarded, otherwise all of them are committed together.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Close() error
}
