package order

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	VariantID int64           `json:"variantId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
}

// Order prices are snapshotted from the quote at creation and never re-read.
type Order struct {
	ID               int64             `json:"orderId"`
	CustomerID       int64             `json:"customerId,omitempty"`
	QuoteID          int64             `json:"quoteId"`
	Status           Status            `json:"status"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	TaxTotal         decimal.Decimal   `json:"taxTotal"`
	Total            decimal.Decimal   `json:"total"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	Items            []Item            `json:"items"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type QuoteItem struct {
	VariantID int64
	Quantity  int
	UnitPrice decimal.Decimal
	// TaxAmount is the line's tax, already computed upstream.
	TaxAmount decimal.Decimal
}

type Quote struct {
	ID         int64
	CustomerID int64
	Currency   string
	ExpiresAt  time.Time
	Items      []QuoteItem
}

func (q Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// Totals sums line prices and tax.
func (q Quote) Totals() (subtotal, tax, total decimal.Decimal) {
	for _, it := range q.Items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
		tax = tax.Add(it.TaxAmount)
	}
	return subtotal, tax, subtotal.Add(tax)
}

// NewFromQuote builds a pending order with the quote's prices.
func NewFromQuote(q Quote, customerID int64) *Order {
	subtotal, tax, total := q.Totals()
	o := &Order{
		CustomerID: customerID,
		QuoteID:    q.ID,
		Status:     StatusPending,
		Subtotal:   subtotal,
		TaxTotal:   tax,
		Total:      total,
		Currency:   q.Currency,
		Metadata:   map[string]string{"quoteId": strconv.FormatInt(q.ID, 10)},
	}
	if o.CustomerID == 0 {
		o.CustomerID = q.CustomerID
	}
	for _, it := range q.Items {
		o.Items = append(o.Items, Item{
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			TaxAmount: it.TaxAmount,
		})
	}
	return o
}
