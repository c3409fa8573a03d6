// Package correlation carries a request's correlation id through contexts,
// from the HTTP edge into published events.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

const Header = "X-Correlation-Id"

type ctxKey struct{}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ID returns the correlation id stored in ctx, or "".
func ID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx with a correlation id, generating one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithID(ctx, id), id
}
