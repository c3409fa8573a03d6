package httpapi

import (
	"net/http"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/correlation"
)

// CorrelationID reuses the caller's X-Correlation-Id or mints one, echoes it
// on the response and stores it on the request context for published events.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cid := r.Header.Get(correlation.Header); cid != "" {
			ctx = correlation.WithID(ctx, cid)
		}
		ctx, cid := correlation.Ensure(ctx)
		w.Header().Set(correlation.Header, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
