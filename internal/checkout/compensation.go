package checkout

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
)

type compensationPath string

const (
	// pathA removes an order that holds no stock.
	pathA compensationPath = "delete_order"
	// pathB releases the order's stock, then removes the order.
	pathB compensationPath = "release_and_delete"
)

// compensate undoes the partial work of a failed request. Each step runs
// independently and is never retried inline; a failed step leaves a durable
// alert instead. It runs detached from the request's cancellation.
func (s *Service) compensate(ctx context.Context, orderID int64, path compensationPath, cause error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "checkout.compensate", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("compensation.path", string(path)),
	))
	defer span.End()

	s.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("path", string(path))))
	s.logger.Printf("compensating order=%d path=%s cause=%v", orderID, path, cause)

	if path == pathB {
		if n, err := s.reserver.ReleaseForOrder(ctx, orderID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "release failed")
			s.escalate(ctx, orderID, alert.StepReleaseStock, fmt.Sprintf("release stock after %v: %v", cause, err))
		} else {
			s.logger.Printf("released holds=%d for order=%d", n, orderID)
		}
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		s.escalate(ctx, orderID, alert.StepDeleteOrder, fmt.Sprintf("delete order after %v: %v", cause, err))
	}
}

// escalate records a compensation failure. Its own failures are logged and
// swallowed so they never mask the caller's primary error.
func (s *Service) escalate(ctx context.Context, orderID int64, step, reason string) {
	if s.alerts != nil {
		if err := s.alerts.Record(ctx, orderID, step, reason); err != nil {
			s.logger.Printf("CRITICAL unrecorded compensation failure order=%d step=%s reason=%q: %v", orderID, step, reason, err)
		}
	}
	if s.events != nil {
		if err := s.events.CompensationFailed(ctx, orderID, step, reason); err != nil {
			s.logger.Printf("publish compensation failed order=%d: %v", orderID, err)
		}
	}
}
