package idempotency

import "time"

// Record is a cached successful response, scoped by key and endpoint.
type Record struct {
	Key        string
	Endpoint   string
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
