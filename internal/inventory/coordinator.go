package inventory

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// StockEvents receives stock lifecycle notifications. Delivery is best effort.
type StockEvents interface {
	StockReserved(ctx context.Context, orderID int64, reservationID uuid.UUID, lines []Line) error
	StockReleased(ctx context.Context, orderID int64, holds int64) error
	StockConsumed(ctx context.Context, orderID int64, holds int64) error
}

// Coordinator is the binding authority over stock: it turns requested lines
// into ledger reservations and drives holds to their terminal states.
type Coordinator struct {
	ledger Ledger
	events StockEvents
	logger *log.Logger

	newReservationID func() uuid.UUID
}

func NewCoordinator(ledger Ledger, events StockEvents, logger *log.Logger) *Coordinator {
	return &Coordinator{
		ledger:           ledger,
		events:           events,
		logger:           logger,
		newReservationID: uuid.New,
	}
}

// Reserve holds every line for orderID or nothing. Lines are taken in
// ascending variant order; after the first shortfall the remaining lines are
// only measured so the caller sees every shortfall.
func (c *Coordinator) Reserve(ctx context.Context, orderID int64, lines []Line) (ReserveResult, error) {
	if orderID <= 0 {
		return ReserveResult{}, ErrInvalidOrder
	}
	merged, err := NormalizeLines(lines)
	if err != nil {
		return ReserveResult{}, err
	}

	res := ReserveResult{ReservationID: c.newReservationID()}
	meta := Metadata{OrderID: orderID, ReservationID: res.ReservationID}

	var (
		written  int
		measured []Line
	)
	for i, line := range merged {
		attempt, err := c.ledger.ReserveIfAvailable(ctx, line.VariantID, line.Quantity, meta)
		if err != nil {
			// a failed commit may still have landed, so release unconditionally
			c.undo(ctx, orderID, res.ReservationID)
			return ReserveResult{}, fmt.Errorf("reserve variant %d for order %d: %w", line.VariantID, orderID, err)
		}
		if attempt.Reserved {
			written++
			continue
		}
		res.Insufficient = append(res.Insufficient, Shortfall{
			VariantID: line.VariantID,
			Title:     attempt.Title,
			Requested: line.Quantity,
			Available: max(attempt.OnHand, 0),
		})
		measured = merged[i+1:]
		break
	}

	if len(res.Insufficient) == 0 {
		res.Reserved = true
		res.Lines = merged
		c.logger.Printf("stock reserved for order=%d reservation=%s lines=%d", orderID, res.ReservationID, len(merged))
		if c.events != nil {
			if err := c.events.StockReserved(ctx, orderID, res.ReservationID, merged); err != nil {
				c.logger.Printf("publish stock reserved failed order=%d: %v", orderID, err)
			}
		}
		return res, nil
	}

	if written > 0 {
		c.undo(ctx, orderID, res.ReservationID)
	}

	if len(measured) > 0 {
		rest, err := c.measure(ctx, measured)
		if err != nil {
			return ReserveResult{}, err
		}
		res.Insufficient = append(res.Insufficient, rest...)
	}

	c.logger.Printf("stock insufficient for order=%d shortfalls=%d", orderID, len(res.Insufficient))
	return res, nil
}

// undo releases every hold written under reservationID during a failed Reserve.
func (c *Coordinator) undo(ctx context.Context, orderID int64, reservationID uuid.UUID) {
	n, err := c.ledger.ReleaseReservation(context.WithoutCancel(ctx), reservationID)
	if err != nil {
		c.logger.Printf("rollback of reservation=%s order=%d failed: %v", reservationID, orderID, err)
		return
	}
	c.logger.Printf("rolled back reservation=%s order=%d holds=%d", reservationID, orderID, n)
}

func (c *Coordinator) measure(ctx context.Context, lines []Line) ([]Shortfall, error) {
	onHand, err := c.ledger.OnHand(ctx, variantIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("measure remaining lines: %w", err)
	}
	var short []Shortfall
	for _, line := range lines {
		if have := onHand[line.VariantID]; have < line.Quantity {
			short = append(short, Shortfall{VariantID: line.VariantID, Requested: line.Quantity, Available: max(have, 0)})
		}
	}
	if len(short) == 0 {
		return nil, nil
	}
	if err := fillTitles(ctx, c.ledger, short); err != nil {
		return nil, err
	}
	return short, nil
}

// Consume turns the order's active holds into sales. Safe to repeat.
func (c *Coordinator) Consume(ctx context.Context, orderID int64) (int64, error) {
	n, err := c.ledger.ConsumeOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	c.logger.Printf("stock consumed for order=%d holds=%d", orderID, n)
	if c.events != nil {
		if err := c.events.StockConsumed(ctx, orderID, n); err != nil {
			c.logger.Printf("publish stock consumed failed order=%d: %v", orderID, err)
		}
	}
	return n, nil
}

// ReleaseForOrder returns the order's active holds to the pool. Safe to repeat.
func (c *Coordinator) ReleaseForOrder(ctx context.Context, orderID int64) (int64, error) {
	n, err := c.ledger.ReleaseOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	c.released(ctx, orderID, n)
	return n, nil
}

func (c *Coordinator) ReleaseReservation(ctx context.Context, reservationID uuid.UUID, orderID int64) (int64, error) {
	n, err := c.ledger.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return 0, err
	}
	c.released(ctx, orderID, n)
	return n, nil
}

func (c *Coordinator) released(ctx context.Context, orderID, n int64) {
	if n == 0 {
		return
	}
	c.logger.Printf("stock released for order=%d holds=%d", orderID, n)
	if c.events != nil {
		if err := c.events.StockReleased(ctx, orderID, n); err != nil {
			c.logger.Printf("publish stock released failed order=%d: %v", orderID, err)
		}
	}
}

func (c *Coordinator) Restock(ctx context.Context, variantID int64, quantity int, title, note string) (StockLevel, error) {
	if quantity <= 0 {
		return StockLevel{}, fmt.Errorf("%w: restock quantity must be positive", ErrInvalidDelta)
	}
	return c.appendAndLevel(ctx, variantID, title, quantity, ReasonRestock, Metadata{Note: note})
}

func (c *Coordinator) RecordReturn(ctx context.Context, variantID int64, quantity int, orderID int64, note string) (StockLevel, error) {
	if quantity <= 0 {
		return StockLevel{}, fmt.Errorf("%w: returned quantity must be positive", ErrInvalidDelta)
	}
	return c.appendAndLevel(ctx, variantID, "", quantity, ReasonReturn, Metadata{OrderID: orderID, Note: note})
}

// Adjust books a stocktake correction. It may take on-hand below zero when the
// shelf count says so.
func (c *Coordinator) Adjust(ctx context.Context, variantID int64, delta int, note string) (StockLevel, error) {
	if delta == 0 {
		return StockLevel{}, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidDelta)
	}
	return c.appendAndLevel(ctx, variantID, "", delta, ReasonAdjustment, Metadata{Note: note})
}

// appendAndLevel registers the variant before booking the movement so that
// every variant carrying ledger rows has a lockable product_variants row. An
// empty title keeps the stored one.
func (c *Coordinator) appendAndLevel(ctx context.Context, variantID int64, title string, delta int, reason Reason, meta Metadata) (StockLevel, error) {
	if variantID <= 0 {
		return StockLevel{}, fmt.Errorf("%w: variantId must be positive", ErrInvalidLine)
	}
	if err := c.ledger.UpsertVariant(ctx, variantID, title); err != nil {
		return StockLevel{}, fmt.Errorf("upsert variant %d: %w", variantID, err)
	}
	if _, err := c.ledger.Append(ctx, variantID, delta, reason, meta); err != nil {
		return StockLevel{}, err
	}
	c.logger.Printf("stock %s variant=%d delta=%d", reason, variantID, delta)
	return c.Level(ctx, variantID)
}

func (c *Coordinator) Level(ctx context.Context, variantID int64) (StockLevel, error) {
	ids := []int64{variantID}
	onHand, err := c.ledger.OnHand(ctx, ids)
	if err != nil {
		return StockLevel{}, err
	}
	titles, err := c.ledger.Titles(ctx, ids)
	if err != nil {
		return StockLevel{}, err
	}
	title, known := titles[variantID]
	if !known && onHand[variantID] == 0 {
		return StockLevel{}, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
	}
	return StockLevel{VariantID: variantID, Title: title, OnHand: onHand[variantID]}, nil
}

func (c *Coordinator) History(ctx context.Context, variantID int64) ([]Movement, error) {
	return c.ledger.Movements(ctx, variantID)
}
