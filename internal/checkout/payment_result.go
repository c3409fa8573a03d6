package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/order"
)

// HandlePaymentSucceeded turns the order's holds into sales and marks it paid.
// Redelivery is harmless.
func (s *Service) HandlePaymentSucceeded(ctx context.Context, orderID int64) error {
	consumed, err := s.reserver.Consume(ctx, orderID)
	if err != nil {
		return fmt.Errorf("consume stock for order %d: %w", orderID, err)
	}

	changed, err := s.orders.Transition(ctx, orderID, order.StatusPaid, order.StatusAwaitingPayment, order.StatusPending)
	if err != nil {
		return fmt.Errorf("mark order %d paid: %w", orderID, err)
	}
	if changed {
		s.logger.Printf("order paid order=%d holds=%d", orderID, consumed)
		return nil
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			s.escalate(ctx, orderID, alert.StepConsumeStock, "payment succeeded for an order that no longer exists")
			return nil
		}
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if o.Status != order.StatusPaid {
		s.escalate(ctx, orderID, alert.StepConsumeStock,
			fmt.Sprintf("payment succeeded for order in status %s", o.Status))
		return nil
	}
	s.logger.Printf("payment success already applied order=%d", orderID)
	return nil
}

// HandlePaymentFailed returns the order's holds to the pool and marks it
// payment_failed. Holds of a paid order are already sold and stay sold.
func (s *Service) HandlePaymentFailed(ctx context.Context, orderID int64, reason string) error {
	released, err := s.reserver.ReleaseForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("release stock for order %d: %w", orderID, err)
	}

	changed, err := s.orders.Transition(ctx, orderID, order.StatusPaymentFailed, order.StatusAwaitingPayment, order.StatusPending)
	if err != nil {
		return fmt.Errorf("mark order %d payment_failed: %w", orderID, err)
	}
	if !changed {
		s.logger.Printf("payment failure for order=%d not applied, order not awaiting payment released=%d reason=%q", orderID, released, reason)
		return nil
	}
	s.logger.Printf("payment failed order=%d released=%d reason=%q", orderID, released, reason)
	return nil
}

// Order returns the current view of an order.
func (s *Service) Order(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}
