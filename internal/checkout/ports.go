package checkout

import (
	"context"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
)

type AvailabilityChecker interface {
	Check(ctx context.Context, lines []inventory.Line) (inventory.Availability, error)
}

type StockReserver interface {
	Reserve(ctx context.Context, orderID int64, lines []inventory.Line) (inventory.ReserveResult, error)
	ReleaseForOrder(ctx context.Context, orderID int64) (int64, error)
	Consume(ctx context.Context, orderID int64) (int64, error)
}

type ResponseCache interface {
	Lookup(ctx context.Context, key, endpoint string) (*idempotency.Record, error)
	Store(ctx context.Context, key, endpoint string, status int, body []byte) (bool, error)
}

type AlertSink interface {
	Record(ctx context.Context, orderID int64, step, reason string) error
}

// Events receives checkout notifications. Delivery is best effort.
type Events interface {
	PaymentIntentCreated(ctx context.Context, orderID int64, intentID string, amountMinor int64, currency string) error
	CompensationFailed(ctx context.Context, orderID int64, step, reason string) error
}
