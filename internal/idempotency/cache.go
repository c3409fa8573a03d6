package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
)

const (
	DefaultTTL   = 24 * time.Hour
	MaxKeyLength = 255
)

var ErrInvalidKey = errors.New("invalid idempotency key")

// Cache replays successful responses for retried requests. An empty key
// disables it for that request.
type Cache struct {
	store  Store
	clock  clock.Clock
	ttl    time.Duration
	logger *log.Logger
}

func NewCache(store Store, clk clock.Clock, ttl time.Duration, logger *log.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, clock: clk, ttl: ttl, logger: logger}
}

func ValidateKey(key string) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidKey, MaxKeyLength)
	}
	return nil
}

// Lookup returns the live record for key and endpoint, or nil on a miss.
// Expired records are misses.
func (c *Cache) Lookup(ctx context.Context, key, endpoint string) (*Record, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := c.store.Get(ctx, key, endpoint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Expired(c.clock.Now()) {
		return nil, nil
	}
	return &rec, nil
}

// Store caches a successful response. The first writer for a live key wins;
// a dropped write is not an error.
func (c *Cache) Store(ctx context.Context, key, endpoint string, status int, body []byte) (bool, error) {
	if key == "" {
		return false, nil
	}
	now := c.clock.Now()
	stored, err := c.store.Insert(ctx, Record{
		Key:        key,
		Endpoint:   endpoint,
		StatusCode: status,
		Body:       body,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	})
	if err != nil {
		return false, err
	}
	if !stored {
		c.logger.Printf("idempotency record already present key=%q endpoint=%q, keeping first", key, endpoint)
	}
	return stored, nil
}

func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx, c.clock.Now())
}
