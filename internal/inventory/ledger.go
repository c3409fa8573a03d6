package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidLine  = errors.New("invalid line")
	ErrInvalidDelta = errors.New("invalid delta")
	ErrInvalidOrder = errors.New("invalid order id")
)

// DBPool matches the methods from *pgxpool.Pool that the ledger uses.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// StockReader is the read side of the ledger.
type StockReader interface {
	OnHand(ctx context.Context, variantIDs []int64) (map[int64]int, error)
	Titles(ctx context.Context, variantIDs []int64) (map[int64]string, error)
}

// Ledger is the append-only movement store. On-hand is only ever SUM(delta).
type Ledger interface {
	StockReader

	Append(ctx context.Context, variantID int64, delta int, reason Reason, meta Metadata) (int64, error)
	Movements(ctx context.Context, variantID int64) ([]Movement, error)
	UpsertVariant(ctx context.Context, variantID int64, title string) error

	// ReserveIfAvailable appends a reservation row for quantity only when the
	// variant's on-hand covers it. Attempts on the same variant are serialized.
	ReserveIfAvailable(ctx context.Context, variantID int64, quantity int, meta Metadata) (ReserveAttempt, error)

	ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
	ReleaseOrder(ctx context.Context, orderID int64) (int64, error)
	ConsumeOrder(ctx context.Context, orderID int64) (int64, error)

	StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]StaleReservation, error)
}
