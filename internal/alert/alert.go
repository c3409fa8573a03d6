// Package alert persists compensation failures that need manual intervention.
package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	StepReleaseStock = "release_stock"
	StepDeleteOrder  = "delete_order"
	StepSweep        = "sweep_reservation"
	StepConsumeStock = "consume_stock"
)

type Alert struct {
	ID         int64      `json:"id"`
	OrderID    int64      `json:"orderId"`
	Step       string     `json:"step"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Recorder writes alerts. Writes run detached from request cancellation and
// every write, failed or not, is logged at CRITICAL.
type Recorder struct {
	executor Executor
	logger   *log.Logger
}

func NewRecorder(exec Executor, logger *log.Logger) *Recorder {
	return &Recorder{executor: exec, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, orderID int64, step, reason string) error {
	var id int64
	err := r.executor.QueryRow(context.WithoutCancel(ctx), `
		INSERT INTO compensation_alerts (order_id, step, reason)
		VALUES ($1, $2, $3)
		RETURNING id
	`, orderID, step, reason).Scan(&id)
	if err != nil {
		r.logger.Printf("CRITICAL alert write failed order=%d step=%s reason=%q: %v", orderID, step, reason, err)
		return fmt.Errorf("insert alert: %w", err)
	}
	r.logger.Printf("CRITICAL compensation alert id=%d order=%d step=%s reason=%q", id, orderID, step, reason)
	return nil
}

func (r *Recorder) Open(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := r.executor.Query(ctx, `
		SELECT id, order_id, step, reason, created_at
		FROM compensation_alerts
		WHERE resolved_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select open alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Step, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Recorder) Resolve(ctx context.Context, id int64) (bool, error) {
	tag, err := r.executor.Exec(ctx, `UPDATE compensation_alerts SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("resolve alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
