package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore reads and updates the products table. When bound to a
// transaction its writes commit or roll back with the cart changes.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetProduct(ctx context.Context, model string) (*domain.Product, error) {
	query := `SELECT model, category, quantity, selling_price, arrival_date, COALESCE(details, '')
	          FROM products WHERE model = $1`

	var p domain.Product
	var arrival sql.NullTime
	err := s.db.QueryRowContext(ctx, query, model).Scan(
		&p.Model,
		&p.Category,
		&p.Quantity,
		&p.SellingPrice,
		&arrival,
		&p.Details,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", model, err)
	}
	p.ArrivalDate = arrival.Time
	return &p, nil
}

func (s *PostgresStore) GetStock(ctx context.Context, model string) (int, error) {
	var quantity int
	err := s.db.QueryRowContext(ctx, `SELECT quantity FROM products WHERE model = $1`, model).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get stock for %s: %w", model, err)
	}
	return quantity, nil
}

func (s *PostgresStore) GetPrice(ctx context.Context, model string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT selling_price FROM products WHERE model = $1`, model).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrProductNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", model, err)
	}
	return price, nil
}

// DecrementStock is a compare-and-swap on quantity. The row lock taken by the
// UPDATE is held until the surrounding transaction ends.
func (s *PostgresStore) DecrementStock(ctx context.Context, model string, n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - $1 WHERE model = $2 AND quantity >= $1`,
		n, model)
	if err != nil {
		return fmt.Errorf("failed to decrement stock for %s: %w", model, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// nothing updated: tell a missing product apart from a short one
	if _, err := s.GetStock(ctx, model); err != nil {
		return err
	}
	return ErrInsufficientStock
}

func (s *PostgresStore) SaveProduct(ctx context.Context, p domain.Product) error {
	query := `INSERT INTO products (model, category, quantity, selling_price, arrival_date, details)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (model) DO UPDATE SET
	              category = EXCLUDED.category,
	              quantity = EXCLUDED.quantity,
	              selling_price = EXCLUDED.selling_price,
	              arrival_date = EXCLUDED.arrival_date,
	              details = EXCLUDED.details`

	arrival := sql.NullTime{Time: p.ArrivalDate, Valid: !p.ArrivalDate.IsZero()}
	_, err := s.db.ExecContext(ctx, query,
		p.Model,
		p.Category,
		p.Quantity,
		p.SellingPrice,
		arrival,
		p.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.Model, err)
	}
	return nil
}
