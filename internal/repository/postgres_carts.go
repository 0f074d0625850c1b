package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/domain"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type postgresCarts struct {
	db *sql.Tx
}

const cartColumns = `id, customer, paid, payment_date, total`

func (r *postgresCarts) ActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	return r.activeCart(ctx, customer, false)
}

func (r *postgresCarts) LockActiveCart(ctx context.Context, customer string) (*domain.Cart, error) {
	return r.activeCart(ctx, customer, true)
}

func (r *postgresCarts) activeCart(ctx context.Context, customer string, lock bool) (*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE customer = $1 AND NOT paid`
	if lock {
		query += ` FOR UPDATE`
	}

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, customer))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active cart: %w", err)
	}

	if err := r.attachLines(ctx, []*domain.Cart{cart}); err != nil {
		return nil, err
	}
	return cart, nil
}

// EnsureActiveCart relies on the partial unique index carts_one_active_per_customer:
// a concurrent insert for the same customer blocks until the other transaction
// ends and then does nothing.
func (r *postgresCarts) EnsureActiveCart(ctx context.Context, customer string) error {
	query := `INSERT INTO carts (customer, paid, total)
	          VALUES ($1, FALSE, 0)
	          ON CONFLICT (customer) WHERE NOT paid DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, customer); err != nil {
		return fmt.Errorf("failed to create active cart: %w", err)
	}
	return nil
}

func (r *postgresCarts) InsertLine(ctx context.Context, cartID int64, line domain.Line) error {
	query := `INSERT INTO cart_lines (cart_id, model, quantity, category, price)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, cartID, line.Model, line.Quantity, line.Category, line.Price)
	if isUniqueViolation(err) {
		return ErrDuplicateLine
	}
	if err != nil {
		return fmt.Errorf("failed to insert cart line: %w", err)
	}
	return nil
}

func (r *postgresCarts) UpdateLineQuantity(ctx context.Context, cartID int64, model string, quantity int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $1 WHERE cart_id = $2 AND model = $3`,
		quantity, cartID, model)
	if err != nil {
		return fmt.Errorf("failed to update cart line: %w", err)
	}
	return expectOneRow(res, ErrLineNotFound)
}

func (r *postgresCarts) DeleteLine(ctx context.Context, cartID int64, model string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE cart_id = $1 AND model = $2`,
		cartID, model)
	if err != nil {
		return fmt.Errorf("failed to delete cart line: %w", err)
	}
	return expectOneRow(res, ErrLineNotFound)
}

func (r *postgresCarts) DeleteLines(ctx context.Context, cartID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	return nil
}

func (r *postgresCarts) UpdateTotal(ctx context.Context, cartID int64, total decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE carts SET total = $1 WHERE id = $2`, total, cartID)
	if err != nil {
		return fmt.Errorf("failed to update cart total: %w", err)
	}
	return expectOneRow(res, ErrCartNotFound)
}

func (r *postgresCarts) MarkPaid(ctx context.Context, cartID int64, paidAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE carts SET paid = TRUE, payment_date = $1 WHERE id = $2 AND NOT paid`,
		paidAt, cartID)
	if err != nil {
		return fmt.Errorf("failed to mark cart paid: %w", err)
	}
	return expectOneRow(res, ErrCartNotFound)
}

func (r *postgresCarts) PaidCarts(ctx context.Context, customer string) ([]*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts
	          WHERE customer = $1 AND paid
	          ORDER BY payment_date, id`
	return r.listCarts(ctx, query, customer)
}

func (r *postgresCarts) NonEmptyCarts(ctx context.Context) ([]*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE total <> 0 ORDER BY id`
	return r.listCarts(ctx, query)
}

func (r *postgresCarts) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines`); err != nil {
		return fmt.Errorf("failed to delete cart lines: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts`); err != nil {
		return fmt.Errorf("failed to delete carts: %w", err)
	}
	return nil
}

func (r *postgresCarts) AddOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	query := `INSERT INTO outbox_events (event_id, aggregate_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		event.EventID,
		event.AggregateID,
		event.EventType,
		string(event.Payload),
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *postgresCarts) listCarts(ctx context.Context, query string, args ...any) ([]*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query carts: %w", err)
	}
	defer rows.Close()

	carts := make([]*domain.Cart, 0)
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		carts = append(carts, cart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating carts: %w", err)
	}

	if err := r.attachLines(ctx, carts); err != nil {
		return nil, err
	}
	return carts, nil
}

// attachLines loads the lines of all carts in one query, in insertion order.
func (r *postgresCarts) attachLines(ctx context.Context, carts []*domain.Cart) error {
	if len(carts) == 0 {
		return nil
	}

	ids := make([]int64, len(carts))
	byID := make(map[int64]*domain.Cart, len(carts))
	for i, c := range carts {
		ids[i] = c.ID
		byID[c.ID] = c
		c.Lines = []domain.Line{}
	}

	query := `SELECT cart_id, model, quantity, category, price
	          FROM cart_lines
	          WHERE cart_id = ANY($1)
	          ORDER BY cart_id, id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cartID int64
		var l domain.Line
		if err := rows.Scan(&cartID, &l.Model, &l.Quantity, &l.Category, &l.Price); err != nil {
			return fmt.Errorf("failed to scan cart line: %w", err)
		}
		c := byID[cartID]
		c.Lines = append(c.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cart lines: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (*domain.Cart, error) {
	var c domain.Cart
	var paymentDate sql.NullTime
	if err := row.Scan(&c.ID, &c.Customer, &c.Paid, &paymentDate, &c.Total); err != nil {
		return nil, err
	}
	if paymentDate.Valid {
		t := paymentDate.Time
		c.PaymentDate = &t
	}
	return &c, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
