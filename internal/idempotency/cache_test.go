package idempotency

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
)

type memStore struct {
	mu      sync.Mutex
	records map[[2]string]Record
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[[2]string]Record)}
}

func (m *memStore) Get(_ context.Context, key, endpoint string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Record{}, m.getErr
	}
	rec, ok := m.records[[2]string{key, endpoint}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Insert(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]string{rec.Key, rec.Endpoint}
	if cur, ok := m.records[k]; ok && !cur.Expired(rec.CreatedAt) {
		return false, nil
	}
	m.records[k] = rec
	return true, nil
}

func (m *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func newTestCache(store Store, clk clock.Clock) *Cache {
	return NewCache(store, clk, 24*time.Hour, log.New(io.Discard, "", 0))
}

func TestCache_StoreThenLookup(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	cache := newTestCache(newMemStore(), clk)
	body := []byte(`{"orderId":123,"clientSecret":"cs_abc"}`)

	stored, err := cache.Store(ctx, "K", "POST /api/payments/intent", 201, body)
	require.NoError(t, err)
	assert.True(t, stored)

	rec, err := cache.Lookup(ctx, "K", "POST /api/payments/intent")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.StatusCode)
	assert.Equal(t, body, rec.Body)
	assert.Equal(t, clk.Now().Add(24*time.Hour), rec.ExpiresAt)

	// the same key on another endpoint is a different slot
	rec, err = cache.Lookup(ctx, "K", "POST /api/other")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCache_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	cache := newTestCache(newMemStore(), clk)

	_, err := cache.Store(ctx, "K", "E", 201, []byte(`{"orderId":1}`))
	require.NoError(t, err)
	stored, err := cache.Store(ctx, "K", "E", 201, []byte(`{"orderId":2}`))
	require.NoError(t, err)
	assert.False(t, stored)

	rec, err := cache.Lookup(ctx, "K", "E")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":1}`, string(rec.Body))
}

func TestCache_ExpiredRecordIsAMissAndReplaced(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	store := newMemStore()
	cache := newTestCache(store, clk)

	_, err := cache.Store(ctx, "K", "E", 201, []byte(`{"orderId":1}`))
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	rec, err := cache.Lookup(ctx, "K", "E")
	require.NoError(t, err)
	assert.Nil(t, rec, "a record is dead at its expiry instant")

	stored, err := cache.Store(ctx, "K", "E", 201, []byte(`{"orderId":2}`))
	require.NoError(t, err)
	assert.True(t, stored)

	rec, err = cache.Lookup(ctx, "K", "E")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":2}`, string(rec.Body))
}

func TestCache_EmptyKeyDisablesCaching(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newTestCache(store, clock.NewSystem())

	stored, err := cache.Store(ctx, "", "E", 201, []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Empty(t, store.records)

	rec, err := cache.Lookup(ctx, "", "E")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCache_LookupErrorSurfaces(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("db down")
	cache := newTestCache(store, clock.NewSystem())

	_, err := cache.Lookup(context.Background(), "K", "E")
	assert.ErrorIs(t, err, store.getErr)
}

func TestCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC))
	cache := newTestCache(newMemStore(), clk)

	_, _ = cache.Store(ctx, "old", "E", 201, []byte(`{}`))
	clk.Advance(23 * time.Hour)
	_, _ = cache.Store(ctx, "new", "E", 201, []byte(`{}`))
	clk.Advance(2 * time.Hour)

	n, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("2f1c7a3e-checkout"))
	assert.ErrorIs(t, ValidateKey(string(make([]byte, MaxKeyLength+1))), ErrInvalidKey)
}
