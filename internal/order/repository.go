package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	// CreateSkeleton inserts the order and its items in one transaction and
	// sets o.ID and timestamps.
	CreateSkeleton(ctx context.Context, o *Order) error
	// Delete removes the order and its items. Deleting a missing order is not an error.
	Delete(ctx context.Context, orderID int64) error
	SetPaymentReference(ctx context.Context, orderID int64, ref string) error
	// Transition moves the order to `to` only from one of `from`; it reports
	// whether a row changed.
	Transition(ctx context.Context, orderID int64, to Status, from ...Status) (bool, error)
	GetByID(ctx context.Context, orderID int64) (*Order, error)
	PaymentReference(ctx context.Context, orderID int64) (string, bool, error)
	CancelAbandoned(ctx context.Context, orderID int64) error
}

type QuoteRepository interface {
	GetQuote(ctx context.Context, quoteID int64) (*Quote, error)
	DeleteQuote(ctx context.Context, quoteID int64) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateSkeleton(ctx context.Context, o *Order) error {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if o.Metadata == nil {
		meta = []byte(`{}`)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (customer_id, quote_id, status, subtotal, tax_total, total, currency, metadata)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING id, created_at, updated_at`,
		nullInt(o.CustomerID), nullInt(o.QuoteID), string(o.Status), o.Subtotal, o.TaxTotal, o.Total, o.Currency, meta,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, variant_id, quantity, unit_price, tax_amount)
             VALUES ($1, $2, $3, $4, $5)`,
			o.ID, it.VariantID, it.Quantity, it.UnitPrice, it.TaxAmount,
		)
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, orderID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetPaymentReference(ctx context.Context, orderID int64, ref string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_reference = $2, status = $3, updated_at = now()
         WHERE id = $1`,
		orderID, ref, string(StatusAwaitingPayment),
	)
	if err != nil {
		return fmt.Errorf("set payment reference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Transition(ctx context.Context, orderID int64, to Status, from ...Status) (bool, error) {
	src := make([]string, 0, len(from))
	for _, s := range from {
		src = append(src, string(s))
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = now()
         WHERE id = $1 AND status = ANY($3)`,
		orderID, string(to), pq.Array(src),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, orderID int64) (*Order, error) {
	var (
		o          Order
		customerID sql.NullInt64
		quoteID    sql.NullInt64
		status     string
		meta       []byte
		ref        sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, quote_id, status, subtotal, tax_total, total, currency, metadata,
                payment_reference, created_at, updated_at
         FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &customerID, &quoteID, &status, &o.Subtotal, &o.TaxTotal, &o.Total, &o.Currency, &meta,
		&ref, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	o.CustomerID = customerID.Int64
	o.QuoteID = quoteID.Int64
	o.Status = Status(status)
	o.PaymentReference = ref.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT variant_id, quantity, unit_price, tax_amount
         FROM order_items WHERE order_id = $1 ORDER BY variant_id`,
		o.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.VariantID, &it.Quantity, &it.UnitPrice, &it.TaxAmount); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	return &o, nil
}

func (r *PostgresRepository) PaymentReference(ctx context.Context, orderID int64) (string, bool, error) {
	var ref sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT payment_reference FROM orders WHERE id = $1`, orderID).Scan(&ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("select payment reference: %w", err)
	}
	return ref.String, true, nil
}

func (r *PostgresRepository) CancelAbandoned(ctx context.Context, orderID int64) error {
	_, err := r.Transition(ctx, orderID, StatusCancelled, StatusPending)
	return err
}

func (r *PostgresRepository) GetQuote(ctx context.Context, quoteID int64) (*Quote, error) {
	var (
		q          Quote
		customerID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, currency, expires_at FROM quotes WHERE id = $1`,
		quoteID,
	).Scan(&q.ID, &customerID, &q.Currency, &q.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select quote: %w", err)
	}
	q.CustomerID = customerID.Int64

	rows, err := r.db.QueryContext(ctx,
		`SELECT variant_id, quantity, unit_price, tax_amount
         FROM quote_items WHERE quote_id = $1 ORDER BY variant_id`,
		quoteID,
	)
	if err != nil {
		return nil, fmt.Errorf("select quote_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it QuoteItem
		if err := rows.Scan(&it.VariantID, &it.Quantity, &it.UnitPrice, &it.TaxAmount); err != nil {
			return nil, fmt.Errorf("scan quote_item: %w", err)
		}
		q.Items = append(q.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return &q, nil
}

func (r *PostgresRepository) DeleteQuote(ctx context.Context, quoteID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM quotes WHERE id = $1`, quoteID); err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
