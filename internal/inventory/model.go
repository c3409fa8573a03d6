package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Reason tags every ledger row. The set is persisted and must not grow without a migration.
type Reason string

const (
	ReasonRestock     Reason = "restock"
	ReasonSale        Reason = "sale"
	ReasonReturn      Reason = "return"
	ReasonAdjustment  Reason = "adjustment"
	ReasonReservation Reason = "reservation"
	ReasonReleased    Reason = "released"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonRestock, ReasonSale, ReasonReturn, ReasonAdjustment, ReasonReservation, ReasonReleased:
		return true
	}
	return false
}

const (
	MinLineQuantity = 1
	MaxLineQuantity = 99
)

// Metadata correlates a movement with the order attempt that caused it.
type Metadata struct {
	OrderID       int64     `json:"orderId,omitempty"`
	ReservationID uuid.UUID `json:"reservationId"`
	Note          string    `json:"note,omitempty"`
}

// Movement is an immutable ledger row.
type Movement struct {
	ID        int64     `json:"id"`
	VariantID int64     `json:"variantId"`
	Delta     int       `json:"delta"`
	Reason    Reason    `json:"reason"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
}

type Line struct {
	VariantID int64 `json:"variantId"`
	Quantity  int   `json:"quantity"`
}

// Shortfall is one item that cannot be served from current on-hand stock.
type Shortfall struct {
	VariantID int64  `json:"variantId"`
	Title     string `json:"title"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type Availability struct {
	Available    bool        `json:"available"`
	Insufficient []Shortfall `json:"insufficientItems,omitempty"`
}

type StockLevel struct {
	VariantID int64  `json:"variantId"`
	Title     string `json:"title,omitempty"`
	OnHand    int    `json:"onHand"`
}

type ReserveResult struct {
	Reserved      bool        `json:"reserved"`
	ReservationID uuid.UUID   `json:"reservationId"`
	Lines         []Line      `json:"lines,omitempty"`
	Insufficient  []Shortfall `json:"insufficientItems,omitempty"`
}

// ReserveAttempt is the outcome of one binding per-variant reservation.
type ReserveAttempt struct {
	Reserved   bool
	MovementID int64
	// OnHand as observed under the variant lock, before the reservation row.
	OnHand int
	Title  string
}

// StaleReservation is an active hold older than the sweep cutoff.
type StaleReservation struct {
	ReservationID uuid.UUID
	OrderID       int64
	VariantID     int64
	Quantity      int
	CreatedAt     time.Time
}

// ReservationState is the derived lifecycle state of a reservation row.
type ReservationState string

const (
	StateActive   ReservationState = ReservationState(ReasonReservation)
	StateSold     ReservationState = ReservationState(ReasonSale)
	StateReleased ReservationState = ReservationState(ReasonReleased)
)

// DeriveStates folds a movement history into the state of each (reservation, variant) hold.
func DeriveStates(history []Movement) map[HoldKey]ReservationState {
	states := make(map[HoldKey]ReservationState)
	for _, m := range history {
		if m.Metadata.ReservationID == uuid.Nil {
			continue
		}
		k := HoldKey{ReservationID: m.Metadata.ReservationID, VariantID: m.VariantID}
		switch m.Reason {
		case ReasonReservation:
			if _, ok := states[k]; !ok {
				states[k] = StateActive
			}
		case ReasonReleased:
			if states[k] != StateSold {
				states[k] = StateReleased
			}
		case ReasonSale:
			states[k] = StateSold
		}
	}
	return states
}

type HoldKey struct {
	ReservationID uuid.UUID
	VariantID     int64
}
