package inventory

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
)

// OrderProbe tells the sweeper what happened to the order behind a hold.
type OrderProbe interface {
	// PaymentReference reports whether the order exists and the provider
	// reference it received, if any.
	PaymentReference(ctx context.Context, orderID int64) (ref string, found bool, err error)
	CancelAbandoned(ctx context.Context, orderID int64) error
}

type AlertSink interface {
	Record(ctx context.Context, orderID int64, step, reason string) error
}

type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type SweeperConfig struct {
	Interval time.Duration
	TTL      time.Duration
	Batch    int
}

type SweepReport struct {
	Released  int64
	Escalated int
	Purged    int64
}

// Sweeper reclaims holds whose owning request died before finalizing or
// compensating. Holds of orders that reached the payment provider are left to
// the payment result and escalated instead.
type Sweeper struct {
	coord  *Coordinator
	ledger Ledger
	orders OrderProbe
	alerts AlertSink
	purger ExpiredPurger
	clock  clock.Clock
	cfg    SweeperConfig
	logger *log.Logger

	escalated map[uuid.UUID]struct{}
}

func NewSweeper(coord *Coordinator, ledger Ledger, orders OrderProbe, alerts AlertSink, purger ExpiredPurger, clk clock.Clock, cfg SweeperConfig, logger *log.Logger) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	return &Sweeper{
		coord:     coord,
		ledger:    ledger,
		orders:    orders,
		alerts:    alerts,
		purger:    purger,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		escalated: make(map[uuid.UUID]struct{}),
	}
}

// Run sweeps every Interval until ctx is done. A zero interval disables it.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Printf("reservation sweeper disabled")
		return
	}
	s.logger.Printf("reservation sweeper started interval=%s ttl=%s", s.cfg.Interval, s.cfg.TTL)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Printf("sweep failed: %v", err)
				continue
			}
			if rep.Released > 0 || rep.Escalated > 0 || rep.Purged > 0 {
				s.logger.Printf("sweep released=%d escalated=%d purged=%d", rep.Released, rep.Escalated, rep.Purged)
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var rep SweepReport

	stale, err := s.ledger.StaleReservations(ctx, s.clock.Now().Add(-s.cfg.TTL), s.cfg.Batch)
	if err != nil {
		return rep, err
	}

	seen := make(map[uuid.UUID]bool)
	for _, h := range stale {
		if seen[h.ReservationID] {
			continue
		}
		seen[h.ReservationID] = true

		release, err := s.shouldRelease(ctx, h)
		if err != nil {
			return rep, err
		}
		if !release {
			if s.escalate(ctx, h) {
				rep.Escalated++
			}
			continue
		}

		n, err := s.coord.ReleaseReservation(ctx, h.ReservationID, h.OrderID)
		if err != nil {
			return rep, fmt.Errorf("release stale reservation %s: %w", h.ReservationID, err)
		}
		rep.Released += n
		if h.OrderID > 0 {
			if err := s.orders.CancelAbandoned(ctx, h.OrderID); err != nil {
				s.logger.Printf("cancel abandoned order=%d failed: %v", h.OrderID, err)
			}
		}
	}

	// A short batch is the whole stale set, so escalations outside it have
	// resolved and may be forgotten.
	if len(stale) < s.cfg.Batch {
		for id := range s.escalated {
			if !seen[id] {
				delete(s.escalated, id)
			}
		}
	}

	if s.purger != nil {
		n, err := s.purger.PurgeExpired(ctx)
		if err != nil {
			return rep, fmt.Errorf("purge idempotency records: %w", err)
		}
		rep.Purged = n
	}
	return rep, nil
}

func (s *Sweeper) shouldRelease(ctx context.Context, h StaleReservation) (bool, error) {
	if h.OrderID <= 0 {
		return true, nil
	}
	ref, found, err := s.orders.PaymentReference(ctx, h.OrderID)
	if err != nil {
		return false, fmt.Errorf("look up order %d: %w", h.OrderID, err)
	}
	return !found || ref == "", nil
}

func (s *Sweeper) escalate(ctx context.Context, h StaleReservation) bool {
	if _, ok := s.escalated[h.ReservationID]; ok {
		return false
	}
	s.escalated[h.ReservationID] = struct{}{}

	reason := fmt.Sprintf("reservation %s held since %s with a payment in flight", h.ReservationID, h.CreatedAt.Format(time.RFC3339))
	if s.alerts != nil {
		if err := s.alerts.Record(ctx, h.OrderID, alert.StepSweep, reason); err != nil {
			s.logger.Printf("record sweep alert order=%d failed: %v", h.OrderID, err)
		}
	}
	return true
}
