package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the subset of pgx shared by pools and transactions.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Sequences hands out a gapless, per-partition counter for outgoing events.
type Sequences struct {
	exec Executor
}

func NewSequences(exec Executor) *Sequences {
	return &Sequences{exec: exec}
}

func (s *Sequences) Next(ctx context.Context, partitionKey string) (int64, error) {
	var seq int64
	err := s.exec.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", partitionKey, err)
	}
	return seq, nil
}

// Checkpoints records the highest sequence a consumer has applied per partition.
type Checkpoints struct {
	exec Executor
}

func NewCheckpoints(exec Executor) *Checkpoints {
	return &Checkpoints{exec: exec}
}

// WithExecutor returns a copy bound to exec, typically a transaction.
func (c *Checkpoints) WithExecutor(exec Executor) *Checkpoints {
	return &Checkpoints{exec: exec}
}

// Last returns the checkpoint and locks it for the surrounding transaction.
// The boolean reports whether a checkpoint exists.
func (c *Checkpoints) Last(ctx context.Context, consumer, partitionKey string) (int64, bool, error) {
	var last int64
	err := c.exec.QueryRow(ctx, `
		SELECT last_sequence
		FROM event_dedup_checkpoint
		WHERE consumer_name = $1 AND partition_key = $2
		FOR UPDATE
	`, consumer, partitionKey).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select checkpoint: %w", err)
	}
	return last, true, nil
}

// Advance moves the checkpoint forward; it never moves backwards.
func (c *Checkpoints) Advance(ctx context.Context, consumer, partitionKey string, seq int64) error {
	_, err := c.exec.Exec(ctx, `
		INSERT INTO event_dedup_checkpoint (consumer_name, partition_key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, partition_key)
		DO UPDATE SET
			last_sequence = GREATEST(event_dedup_checkpoint.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()
	`, consumer, partitionKey, seq)
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}
