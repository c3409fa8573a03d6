// Package inventorytest provides an in-memory ledger with the same semantics
// as the Postgres ledger, for tests of packages built on top of inventory.
package inventorytest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
)

type Ledger struct {
	mu     sync.Mutex
	rows   []inventory.Movement
	titles map[int64]string
	nextID int64

	Now func() time.Time

	// failure injection
	ReserveErr   error
	FailVariant  int64
	ReleaseErr   error
	ConsumeErr   error
	OnHandErr    error
	ReserveCalls int
	ReleaseCalls int
}

func NewLedger() *Ledger {
	return &Ledger{
		titles: make(map[int64]string),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Seed registers a variant and restocks it.
func (l *Ledger) Seed(variantID int64, title string, quantity int) {
	_ = l.UpsertVariant(context.Background(), variantID, title)
	if quantity != 0 {
		_, _ = l.Append(context.Background(), variantID, quantity, inventory.ReasonRestock, inventory.Metadata{})
	}
}

// Level returns the on-hand of one variant.
func (l *Ledger) Level(variantID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sumLocked(variantID)
}

// Rows returns a copy of the full history.
func (l *Ledger) Rows() []inventory.Movement {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]inventory.Movement(nil), l.rows...)
}

func (l *Ledger) Append(_ context.Context, variantID int64, delta int, reason inventory.Reason, meta inventory.Metadata) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(variantID, delta, reason, meta), nil
}

func (l *Ledger) OnHand(_ context.Context, variantIDs []int64) (map[int64]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.OnHandErr != nil {
		return nil, l.OnHandErr
	}
	out := make(map[int64]int, len(variantIDs))
	for _, id := range variantIDs {
		out[id] = l.sumLocked(id)
	}
	return out, nil
}

func (l *Ledger) Titles(_ context.Context, variantIDs []int64) (map[int64]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]string, len(variantIDs))
	for _, id := range variantIDs {
		if t, ok := l.titles[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (l *Ledger) Movements(_ context.Context, variantID int64) ([]inventory.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []inventory.Movement
	for _, m := range l.rows {
		if m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Ledger) UpsertVariant(_ context.Context, variantID int64, title string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.titles[variantID]; !ok || title != "" {
		if title == "" {
			title = cur
		}
		l.titles[variantID] = title
	}
	return nil
}

func (l *Ledger) ReserveIfAvailable(_ context.Context, variantID int64, quantity int, meta inventory.Metadata) (inventory.ReserveAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReserveCalls++

	if l.ReserveErr != nil && (l.FailVariant == 0 || l.FailVariant == variantID) {
		return inventory.ReserveAttempt{}, l.ReserveErr
	}
	if _, ok := l.titles[variantID]; !ok {
		l.titles[variantID] = ""
	}
	attempt := inventory.ReserveAttempt{Title: l.titles[variantID], OnHand: l.sumLocked(variantID)}
	if attempt.OnHand < quantity {
		return attempt, nil
	}
	attempt.MovementID = l.appendLocked(variantID, -quantity, inventory.ReasonReservation, meta)
	attempt.Reserved = true
	return attempt, nil
}

func (l *Ledger) ReleaseReservation(_ context.Context, reservationID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReleaseCalls++
	if l.ReleaseErr != nil {
		return 0, l.ReleaseErr
	}
	return l.endLocked(func(m inventory.Movement) bool { return m.Metadata.ReservationID == reservationID }, false), nil
}

func (l *Ledger) ReleaseOrder(_ context.Context, orderID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReleaseCalls++
	if l.ReleaseErr != nil {
		return 0, l.ReleaseErr
	}
	return l.endLocked(func(m inventory.Movement) bool { return m.Metadata.OrderID == orderID }, false), nil
}

func (l *Ledger) ConsumeOrder(_ context.Context, orderID int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ConsumeErr != nil {
		return 0, l.ConsumeErr
	}
	return l.endLocked(func(m inventory.Movement) bool { return m.Metadata.OrderID == orderID }, true), nil
}

func (l *Ledger) StaleReservations(_ context.Context, cutoff time.Time, limit int) ([]inventory.StaleReservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := inventory.DeriveStates(l.rows)
	var out []inventory.StaleReservation
	for _, m := range l.rows {
		if m.Reason != inventory.ReasonReservation || !m.CreatedAt.Before(cutoff) {
			continue
		}
		k := inventory.HoldKey{ReservationID: m.Metadata.ReservationID, VariantID: m.VariantID}
		if states[k] != inventory.StateActive {
			continue
		}
		out = append(out, inventory.StaleReservation{
			ReservationID: m.Metadata.ReservationID,
			OrderID:       m.Metadata.OrderID,
			VariantID:     m.VariantID,
			Quantity:      -m.Delta,
			CreatedAt:     m.CreatedAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// endLocked appends terminal rows for every active hold matching keep.
func (l *Ledger) endLocked(keep func(inventory.Movement) bool, sell bool) int64 {
	states := inventory.DeriveStates(l.rows)
	var n int64
	for _, m := range append([]inventory.Movement(nil), l.rows...) {
		if m.Reason != inventory.ReasonReservation || !keep(m) {
			continue
		}
		k := inventory.HoldKey{ReservationID: m.Metadata.ReservationID, VariantID: m.VariantID}
		if states[k] != inventory.StateActive {
			continue
		}
		meta := m.Metadata
		if sell {
			meta.Note = "consumed"
			l.appendLocked(m.VariantID, -m.Delta, inventory.ReasonReleased, meta)
			l.appendLocked(m.VariantID, m.Delta, inventory.ReasonSale, meta)
		} else {
			meta.Note = "released"
			l.appendLocked(m.VariantID, -m.Delta, inventory.ReasonReleased, meta)
		}
		n++
	}
	return n
}

func (l *Ledger) appendLocked(variantID int64, delta int, reason inventory.Reason, meta inventory.Metadata) int64 {
	l.nextID++
	l.rows = append(l.rows, inventory.Movement{
		ID:        l.nextID,
		VariantID: variantID,
		Delta:     delta,
		Reason:    reason,
		Metadata:  meta,
		CreatedAt: l.Now(),
	})
	return l.nextID
}

func (l *Ledger) sumLocked(variantID int64) int {
	total := 0
	for _, m := range l.rows {
		if m.VariantID == variantID {
			total += m.Delta
		}
	}
	return total
}
