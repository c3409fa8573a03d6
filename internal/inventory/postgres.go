package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PostgresLedger struct {
	pool DBPool
}

func NewPostgresLedger(pool DBPool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const movementColumns = `id, variant_id, delta, reason, COALESCE(order_id, 0), COALESCE(reservation_id::text, ''), note, created_at`

func (l *PostgresLedger) Append(ctx context.Context, variantID int64, delta int, reason Reason, meta Metadata) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO inventory_movements (variant_id, delta, reason, order_id, reservation_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, variantID, delta, string(reason), nullableOrder(meta.OrderID), nullableReservation(meta.ReservationID), meta.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append movement: %w", err)
	}
	return id, nil
}

func (l *PostgresLedger) OnHand(ctx context.Context, variantIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(variantIDs))
	for _, id := range variantIDs {
		out[id] = 0
	}
	if len(variantIDs) == 0 {
		return out, nil
	}

	rows, err := l.pool.Query(ctx, `
		SELECT variant_id, COALESCE(SUM(delta), 0)
		FROM inventory_movements
		WHERE variant_id = ANY($1)
		GROUP BY variant_id
	`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("on-hand query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			variantID int64
			onHand    int
		)
		if err := rows.Scan(&variantID, &onHand); err != nil {
			return nil, err
		}
		out[variantID] = onHand
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Titles(ctx context.Context, variantIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}

	rows, err := l.pool.Query(ctx, `SELECT id, title FROM product_variants WHERE id = ANY($1)`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("titles query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		out[id] = title
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Movements(ctx context.Context, variantID int64) ([]Movement, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE variant_id = $1
		ORDER BY id
	`, variantID)
	if err != nil {
		return nil, fmt.Errorf("movements query: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) UpsertVariant(ctx context.Context, variantID int64, title string) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO product_variants (id, title)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE product_variants.title END
	`, variantID, title)
	return err
}

func (l *PostgresLedger) ReserveIfAvailable(ctx context.Context, variantID int64, quantity int, meta Metadata) (ReserveAttempt, error) {
	var attempt ReserveAttempt

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return attempt, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The variant row is the per-variant mutex: concurrent reservers queue here
	// and each sees the sum including every earlier reservation. Stock booked
	// without a variant row still has to be lockable, so the row is created first.
	_, err = tx.Exec(ctx, `INSERT INTO product_variants (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, variantID)
	if err != nil {
		return attempt, fmt.Errorf("register variant %d: %w", variantID, err)
	}
	err = tx.QueryRow(ctx, `SELECT title FROM product_variants WHERE id = $1 FOR UPDATE`, variantID).Scan(&attempt.Title)
	if err != nil {
		return attempt, fmt.Errorf("lock variant %d: %w", variantID, err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(delta), 0)
		FROM inventory_movements
		WHERE variant_id = $1
	`, variantID).Scan(&attempt.OnHand)
	if err != nil {
		return attempt, fmt.Errorf("sum variant %d: %w", variantID, err)
	}
	if attempt.OnHand < quantity {
		return attempt, nil
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_movements (variant_id, delta, reason, order_id, reservation_id, note)
		VALUES ($1, $2, 'reservation', $3, $4, $5)
		RETURNING id
	`, variantID, -quantity, nullableOrder(meta.OrderID), nullableReservation(meta.ReservationID), meta.Note).Scan(&attempt.MovementID)
	if err != nil {
		return attempt, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return attempt, err
	}
	attempt.Reserved = true
	return attempt, nil
}

// releaseActive ends every still-active hold matched by the filter. Holds that
// were already released or consumed hit the partial unique index and are skipped.
const releaseActive = `
	INSERT INTO inventory_movements (variant_id, delta, reason, order_id, reservation_id, note)
	SELECT r.variant_id, -r.delta, 'released', r.order_id, r.reservation_id, 'released'
	FROM inventory_movements r
	WHERE r.reason = 'reservation' AND %s
	ON CONFLICT (reservation_id, variant_id) WHERE reason = 'released' DO NOTHING
`

func (l *PostgresLedger) ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	tag, err := l.pool.Exec(ctx, fmt.Sprintf(releaseActive, "r.reservation_id = $1"), reservationID.String())
	if err != nil {
		return 0, fmt.Errorf("release reservation %s: %w", reservationID, err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLedger) ReleaseOrder(ctx context.Context, orderID int64) (int64, error) {
	tag, err := l.pool.Exec(ctx, fmt.Sprintf(releaseActive, "r.order_id = $1"), orderID)
	if err != nil {
		return 0, fmt.Errorf("release order %d: %w", orderID, err)
	}
	return tag.RowsAffected(), nil
}

// ConsumeOrder ends each active hold of the order and books the matching sale
// in one statement. Net on-hand effect is zero: the stock left with the hold.
func (l *PostgresLedger) ConsumeOrder(ctx context.Context, orderID int64) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		WITH ended AS (
			INSERT INTO inventory_movements (variant_id, delta, reason, order_id, reservation_id, note)
			SELECT r.variant_id, -r.delta, 'released', r.order_id, r.reservation_id, 'consumed'
			FROM inventory_movements r
			WHERE r.reason = 'reservation' AND r.order_id = $1
			ON CONFLICT (reservation_id, variant_id) WHERE reason = 'released' DO NOTHING
			RETURNING variant_id, delta, order_id, reservation_id
		)
		INSERT INTO inventory_movements (variant_id, delta, reason, order_id, reservation_id, note)
		SELECT variant_id, -delta, 'sale', order_id, reservation_id, 'consumed'
		FROM ended
		ON CONFLICT (reservation_id, variant_id) WHERE reason = 'sale' DO NOTHING
	`, orderID)
	if err != nil {
		return 0, fmt.Errorf("consume order %d: %w", orderID, err)
	}
	return tag.RowsAffected(), nil
}

func (l *PostgresLedger) StaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]StaleReservation, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT r.reservation_id::text, COALESCE(r.order_id, 0), r.variant_id, -r.delta, r.created_at
		FROM inventory_movements r
		WHERE r.reason = 'reservation'
		  AND r.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM inventory_movements t
			WHERE t.reason = 'released'
			  AND t.reservation_id = r.reservation_id
			  AND t.variant_id = r.variant_id
		  )
		ORDER BY r.id
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale reservations query: %w", err)
	}
	defer rows.Close()

	var out []StaleReservation
	for rows.Next() {
		var (
			s   StaleReservation
			rid string
		)
		if err := rows.Scan(&rid, &s.OrderID, &s.VariantID, &s.Quantity, &s.CreatedAt); err != nil {
			return nil, err
		}
		if s.ReservationID, err = uuid.Parse(rid); err != nil {
			return nil, fmt.Errorf("parse reservation id: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m      Movement
		reason string
		rid    string
	)
	if err := row.Scan(&m.ID, &m.VariantID, &m.Delta, &reason, &m.Metadata.OrderID, &rid, &m.Metadata.Note, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	m.Reason = Reason(reason)
	if rid != "" {
		id, err := uuid.Parse(rid)
		if err != nil {
			return Movement{}, fmt.Errorf("parse reservation id: %w", err)
		}
		m.Metadata.ReservationID = id
	}
	return m, nil
}

func nullableOrder(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func nullableReservation(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}
