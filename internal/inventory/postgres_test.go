package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uuidFor(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}

func newMockLedger(t *testing.T) (*PostgresLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresLedger(mock), mock
}

func TestPostgresLedger_ReserveIfAvailable(t *testing.T) {
	ctx := context.Background()
	rid := uuidFor(9)
	meta := Metadata{OrderID: 5, ReservationID: rid}

	t.Run("reserves under the variant lock", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO product_variants \(id\) VALUES \(\$1\) ON CONFLICT \(id\) DO NOTHING`).
			WithArgs(int64(1)).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery(`SELECT title FROM product_variants WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("Plate"))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(delta\), 0\)`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(4))
		mock.ExpectQuery(`INSERT INTO inventory_movements`).
			WithArgs(int64(1), -3, pgxmock.AnyArg(), pgxmock.AnyArg(), "").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(31)))
		mock.ExpectCommit()

		got, err := ledger.ReserveIfAvailable(ctx, 1, 3, meta)
		require.NoError(t, err)
		assert.Equal(t, ReserveAttempt{Reserved: true, MovementID: 31, OnHand: 4, Title: "Plate"}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("short stock writes nothing", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO product_variants \(id\) VALUES \(\$1\) ON CONFLICT \(id\) DO NOTHING`).
			WithArgs(int64(1)).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("Plate"))
		mock.ExpectQuery(`SUM\(delta\)`).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(2))
		mock.ExpectRollback()

		got, err := ledger.ReserveIfAvailable(ctx, 1, 3, meta)
		require.NoError(t, err)
		assert.False(t, got.Reserved)
		assert.Equal(t, 2, got.OnHand)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stock booked without a variant row is reservable", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO product_variants \(id\) VALUES \(\$1\) ON CONFLICT \(id\) DO NOTHING`).
			WithArgs(int64(42)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs(int64(42)).
			WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow(""))
		mock.ExpectQuery(`SUM\(delta\)`).
			WithArgs(int64(42)).
			WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(5))
		mock.ExpectQuery(`INSERT INTO inventory_movements`).
			WithArgs(int64(42), -3, pgxmock.AnyArg(), pgxmock.AnyArg(), "").
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))
		mock.ExpectCommit()

		got, err := ledger.ReserveIfAvailable(ctx, 42, 3, meta)
		require.NoError(t, err)
		assert.Equal(t, ReserveAttempt{Reserved: true, MovementID: 12, OnHand: 5}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown variant holds no stock", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO product_variants`).
			WithArgs(int64(404)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs(int64(404)).
			WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow(""))
		mock.ExpectQuery(`SUM\(delta\)`).
			WithArgs(int64(404)).
			WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(0))
		mock.ExpectRollback()

		got, err := ledger.ReserveIfAvailable(ctx, 404, 1, meta)
		require.NoError(t, err)
		assert.Equal(t, ReserveAttempt{}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure surfaces", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO product_variants`).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("Plate"))
		mock.ExpectQuery(`SUM\(delta\)`).
			WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(9))
		mock.ExpectQuery(`INSERT INTO inventory_movements`).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		got, err := ledger.ReserveIfAvailable(ctx, 1, 1, meta)
		require.Error(t, err)
		assert.False(t, got.Reserved)
	})
}

func TestPostgresLedger_OnHandFillsMissingVariants(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectQuery(`GROUP BY variant_id`).
		WithArgs([]int64{1, 2, 3}).
		WillReturnRows(pgxmock.NewRows([]string{"variant_id", "sum"}).
			AddRow(int64(1), 4).
			AddRow(int64(3), -1))

	got, err := ledger.OnHand(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{1: 4, 2: 0, 3: -1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("release by reservation", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		rid := uuidFor(3)
		mock.ExpectExec(`ON CONFLICT \(reservation_id, variant_id\) WHERE reason = 'released' DO NOTHING`).
			WithArgs(rid.String()).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))

		n, err := ledger.ReleaseReservation(ctx, rid)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release by order repeated is a no-op", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectExec(`r.order_id = \$1`).
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		n, err := ledger.ReleaseOrder(ctx, 7)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("consume books release and sale together", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		mock.ExpectExec(`WITH ended AS`).
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("INSERT", 3))

		n, err := ledger.ConsumeOrder(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store errors are wrapped", func(t *testing.T) {
		ledger, mock := newMockLedger(t)
		boom := errors.New("conn closed")
		mock.ExpectExec(`WITH ended AS`).
			WithArgs(int64(7)).
			WillReturnError(boom)

		_, err := ledger.ConsumeOrder(ctx, 7)
		assert.ErrorIs(t, err, boom)
	})
}

func TestPostgresLedger_Movements(t *testing.T) {
	ledger, mock := newMockLedger(t)
	rid := uuidFor(4)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM inventory_movements\s+WHERE variant_id = \$1\s+ORDER BY id`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "variant_id", "delta", "reason", "order_id", "reservation_id", "note", "created_at"}).
			AddRow(int64(1), int64(2), 5, "restock", int64(0), "", "delivery", at).
			AddRow(int64(2), int64(2), -1, "reservation", int64(8), rid.String(), "", at))

	got, err := ledger.Movements(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ReasonRestock, got[0].Reason)
	assert.Equal(t, uuid.Nil, got[0].Metadata.ReservationID)
	assert.Equal(t, Metadata{OrderID: 8, ReservationID: rid}, got[1].Metadata)
}

func TestPostgresLedger_StaleReservations(t *testing.T) {
	ledger, mock := newMockLedger(t)
	rid := uuidFor(6)
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`NOT EXISTS`).
		WithArgs(cutoff, 10).
		WillReturnRows(pgxmock.NewRows([]string{"reservation_id", "order_id", "variant_id", "qty", "created_at"}).
			AddRow(rid.String(), int64(3), int64(1), 2, cutoff.Add(-time.Hour)))

	got, err := ledger.StaleReservations(context.Background(), cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, []StaleReservation{{ReservationID: rid, OrderID: 3, VariantID: 1, Quantity: 2, CreatedAt: cutoff.Add(-time.Hour)}}, got)
}
