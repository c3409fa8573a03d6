package events

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/correlation"
)

// PaymentResults applies provider outcomes to orders and stock. Both
// operations must tolerate redelivery.
type PaymentResults interface {
	HandlePaymentSucceeded(ctx context.Context, orderID int64) error
	HandlePaymentFailed(ctx context.Context, orderID int64, reason string) error
}

type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

const (
	PaymentSucceededConsumer = "checkout-payment-succeeded"
	PaymentFailedConsumer    = "checkout-payment-failed"
)

// PaymentSucceededHandler consumes payment.succeeded.v1.
func PaymentSucceededHandler(db TxBeginner, checkpoints *Checkpoints, results PaymentResults, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var p PaymentSucceededPayload
		env, err := decodeEvent(body, EventTypePaymentSucceeded, &p)
		if err != nil {
			return err
		}
		if p.OrderID <= 0 {
			return fmt.Errorf("missing orderId")
		}
		return applyOnce(ctx, db, checkpoints, PaymentSucceededConsumer, env, p.OrderID, logger, func(ctx context.Context) error {
			return results.HandlePaymentSucceeded(ctx, p.OrderID)
		})
	}
}

// PaymentFailedHandler consumes payment.failed.v1.
func PaymentFailedHandler(db TxBeginner, checkpoints *Checkpoints, results PaymentResults, logger *log.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var p PaymentFailedPayload
		env, err := decodeEvent(body, EventTypePaymentFailed, &p)
		if err != nil {
			return err
		}
		if p.OrderID <= 0 {
			return fmt.Errorf("missing orderId")
		}
		return applyOnce(ctx, db, checkpoints, PaymentFailedConsumer, env, p.OrderID, logger, func(ctx context.Context) error {
			return results.HandlePaymentFailed(ctx, p.OrderID, p.Reason)
		})
	}
}

// applyOnce runs apply unless the envelope's sequence is at or below the
// consumer's checkpoint for the partition. Legacy messages carry no sequence
// and always run; apply is idempotent either way.
func applyOnce(ctx context.Context, db TxBeginner, checkpoints *Checkpoints, consumer string, env *EventEnvelope, orderID int64, logger *log.Logger, apply func(context.Context) error) error {
	if env == nil || env.Sequence == 0 {
		return apply(ctx)
	}
	if env.CorrelationID != "" {
		ctx = correlation.WithID(ctx, env.CorrelationID)
	}
	partition := env.PartitionKey
	if partition == "" {
		partition = strconv.FormatInt(orderID, 10)
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	local := checkpoints.WithExecutor(tx)
	last, ok, err := local.Last(ctx, consumer, partition)
	if err != nil {
		return err
	}
	if ok {
		if env.Sequence <= last {
			logger.Printf("skip duplicate %s order=%d partition=%s seq=%d last=%d", env.EventName, orderID, partition, env.Sequence, last)
			return nil
		}
		if env.Sequence > last+1 {
			logger.Printf("warning: sequence gap for partition=%s seq=%d last=%d", partition, env.Sequence, last)
		}
	}

	if err := apply(ctx); err != nil {
		return fmt.Errorf("apply %s for order %d: %w", env.EventName, orderID, err)
	}
	if err := local.Advance(ctx, consumer, partition, env.Sequence); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}
