package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/order"
)

type Checkout interface {
	CreatePaymentIntent(ctx context.Context, req checkout.Request) (checkout.Result, error)
	Order(ctx context.Context, orderID int64) (*order.Order, error)
}

type AvailabilityChecker interface {
	Check(ctx context.Context, lines []inventory.Line) (inventory.Availability, error)
}

type StockAdmin interface {
	Level(ctx context.Context, variantID int64) (inventory.StockLevel, error)
	History(ctx context.Context, variantID int64) ([]inventory.Movement, error)
	Restock(ctx context.Context, variantID int64, quantity int, title, note string) (inventory.StockLevel, error)
	Adjust(ctx context.Context, variantID int64, delta int, note string) (inventory.StockLevel, error)
	RecordReturn(ctx context.Context, variantID int64, quantity int, orderID int64, note string) (inventory.StockLevel, error)
}

type AlertQueue interface {
	Open(ctx context.Context, limit int) ([]alert.Alert, error)
	Resolve(ctx context.Context, id int64) (bool, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	checkout Checkout
	checker  AvailabilityChecker
	stock    StockAdmin
	alerts   AlertQueue
	db       Pinger
	logger   *log.Logger
}

func NewHandler(co Checkout, checker AvailabilityChecker, stock StockAdmin, alerts AlertQueue, db Pinger, logger *log.Logger) *Handler {
	return &Handler{checkout: co, checker: checker, stock: stock, alerts: alerts, db: db, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Printf("health: database unreachable: %v", err)
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type errorResponse struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	Items []inventory.Shortfall `json:"items,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body errorResponse) {
	body.CorrelationID = correlation.ID(r.Context())
	writeJSON(w, status, body)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
