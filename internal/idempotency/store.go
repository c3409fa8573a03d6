package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("idempotency record not found")

type Store interface {
	Get(ctx context.Context, key, endpoint string) (Record, error)
	// Insert writes rec unless an unexpired record holds the slot. It reports
	// whether rec was written.
	Insert(ctx context.Context, rec Record) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Executor is the subset of pgx used by the store.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	executor Executor
}

func NewPostgresStore(exec Executor) *PostgresStore {
	return &PostgresStore{executor: exec}
}

func (s *PostgresStore) Get(ctx context.Context, key, endpoint string) (Record, error) {
	rec := Record{Key: key, Endpoint: endpoint}
	err := s.executor.QueryRow(ctx, `
		SELECT status_code, response_body, created_at, expires_at
		FROM idempotency_records
		WHERE idempotency_key = $1 AND endpoint = $2
	`, key, endpoint).Scan(&rec.StatusCode, &rec.Body, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("select idempotency record: %w", err)
	}
	return rec, nil
}

// Insert replaces an expired record in place; an unexpired one wins.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) (bool, error) {
	tag, err := s.executor.Exec(ctx, `
		INSERT INTO idempotency_records (idempotency_key, endpoint, status_code, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key, endpoint) DO UPDATE
		SET status_code = EXCLUDED.status_code,
			response_body = EXCLUDED.response_body,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at
	`, rec.Key, rec.Endpoint, rec.StatusCode, rec.Body, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("insert idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.executor.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
