package events

import "time"

const (
	EventTypeStockReserved        = "StockReserved"
	EventTypeStockReleased        = "StockReleased"
	EventTypeStockConsumed        = "StockConsumed"
	EventTypePaymentIntentCreated = "PaymentIntentCreated"
	EventTypeCompensationFailed   = "CompensationFailed"
	EventTypePaymentSucceeded     = "PaymentSucceeded"
	EventTypePaymentFailed        = "PaymentFailed"

	stockReservedSchema        = "ecommerce.stock.reserved.v1"
	stockReleasedSchema        = "ecommerce.stock.released.v1"
	stockConsumedSchema        = "ecommerce.stock.consumed.v1"
	paymentIntentCreatedSchema = "ecommerce.payment.intent_created.v1"
	compensationFailedSchema   = "ecommerce.ops.compensation_failed.v1"
)

type StockLine struct {
	VariantID int64 `json:"variantId"`
	Quantity  int   `json:"quantity"`
}

type StockReservedPayload struct {
	OrderID       int64       `json:"orderId"`
	ReservationID string      `json:"reservationId"`
	Items         []StockLine `json:"items"`
	Timestamp     time.Time   `json:"timestamp"`
}

// StockHoldsPayload reports holds ended by a release or a sale.
type StockHoldsPayload struct {
	OrderID   int64     `json:"orderId"`
	Holds     int64     `json:"holds"`
	Timestamp time.Time `json:"timestamp"`
}

type PaymentIntentCreatedPayload struct {
	OrderID         int64     `json:"orderId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Timestamp       time.Time `json:"timestamp"`
}

type CompensationFailedPayload struct {
	OrderID   int64     `json:"orderId"`
	Step      string    `json:"step"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSucceededPayload is relayed from the provider's webhook.
type PaymentSucceededPayload struct {
	OrderID         int64     `json:"orderId"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type PaymentFailedPayload struct {
	OrderID         int64     `json:"orderId"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}
