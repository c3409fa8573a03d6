package checkout

import (
	"errors"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/payment"
)

var (
	ErrQuoteNotFound = errors.New("quote not found")
	ErrQuoteExpired  = errors.New("quote expired")
	ErrOrderNotFound = errors.New("order not found")
)

// ProviderError is returned when the payment provider call failed. The
// order's stock has been released and the order removed by then.
type ProviderError = payment.ProviderError

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// OutOfStockError lists every line that cannot be served. Race is set when the
// precheck passed but the binding reservation lost to a concurrent order.
type OutOfStockError struct {
	Items []inventory.Shortfall
	Race  bool
}

func (e *OutOfStockError) Error() string {
	if e.Race {
		return fmt.Sprintf("out of stock after reservation race: %d item(s)", len(e.Items))
	}
	return fmt.Sprintf("out of stock: %d item(s)", len(e.Items))
}
