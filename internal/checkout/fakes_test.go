package checkout

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory/inventorytest"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/payment"
)

type fakeOrders struct {
	mu     sync.Mutex
	quotes map[int64]*order.Quote
	orders map[int64]*order.Order
	nextID int64

	createErr error
	deleteErr error
	setRefErr error

	deletedQuotes []int64
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		quotes: make(map[int64]*order.Quote),
		orders: make(map[int64]*order.Order),
		nextID: 122,
	}
}

func (f *fakeOrders) GetQuote(_ context.Context, id int64) (*order.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *q
	cp.Items = append([]order.QuoteItem(nil), q.Items...)
	return &cp, nil
}

func (f *fakeOrders) DeleteQuote(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedQuotes = append(f.deletedQuotes, id)
	return nil
}

func (f *fakeOrders) CreateSkeleton(_ context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	o.ID = f.nextID
	o.CreatedAt = time.Now()
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrders) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.orders, id)
	return nil
}

func (f *fakeOrders) SetPaymentReference(_ context.Context, id int64, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRefErr != nil {
		return f.setRefErr
	}
	o, ok := f.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PaymentReference = ref
	o.Status = order.StatusAwaitingPayment
	return nil
}

func (f *fakeOrders) Transition(_ context.Context, id int64, to order.Status, from ...order.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) PaymentReference(_ context.Context, id int64) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return "", false, nil
	}
	return o.PaymentReference, true, nil
}

func (f *fakeOrders) CancelAbandoned(ctx context.Context, id int64) error {
	_, err := f.Transition(ctx, id, order.StatusCancelled, order.StatusPending)
	return err
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
	last  payment.IntentRequest
}

func (f *fakeProvider) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return payment.Intent{}, f.err
	}
	return payment.Intent{ID: "pi_abc", ClientSecret: "cs_abc", Status: "requires_payment_method"}, nil
}

type fakeCache struct {
	mu       sync.Mutex
	records  map[[2]string]idempotency.Record
	storeErr error
	stores   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[[2]string]idempotency.Record)}
}

func (f *fakeCache) Lookup(_ context.Context, key, endpoint string) (*idempotency.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[[2]string{key, endpoint}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeCache) Store(_ context.Context, key, endpoint string, status int, body []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	if f.storeErr != nil {
		return false, f.storeErr
	}
	k := [2]string{key, endpoint}
	if _, ok := f.records[k]; ok {
		return false, nil
	}
	f.records[k] = idempotency.Record{Key: key, Endpoint: endpoint, StatusCode: status, Body: body}
	return true, nil
}

type recordedAlert struct {
	OrderID int64
	Step    string
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []recordedAlert
	err    error
}

func (f *fakeAlerts) Record(_ context.Context, orderID int64, step, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, recordedAlert{OrderID: orderID, Step: step})
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	created  []int64
	failures []string
}

func (f *fakeEvents) PaymentIntentCreated(_ context.Context, orderID int64, _ string, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, orderID)
	return nil
}

func (f *fakeEvents) CompensationFailed(_ context.Context, _ int64, step, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, step)
	return errors.New("broker unavailable")
}

// alwaysAvailable passes every precheck so the binding reservation decides.
type alwaysAvailable struct{}

func (alwaysAvailable) Check(context.Context, []inventory.Line) (inventory.Availability, error) {
	return inventory.Availability{Available: true}, nil
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc      *Service
	ledger   *inventorytest.Ledger
	orders   *fakeOrders
	provider *fakeProvider
	cache    *fakeCache
	alerts   *fakeAlerts
	events   *fakeEvents
	clock    *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	h := &harness{
		ledger:   inventorytest.NewLedger(),
		orders:   newFakeOrders(),
		provider: &fakeProvider{},
		cache:    newFakeCache(),
		alerts:   &fakeAlerts{},
		events:   &fakeEvents{},
		clock:    clock.NewManual(testNow),
	}
	h.ledger.Seed(1, "Enamel mug", 10)
	h.ledger.Seed(2, "Tea towel", 5)
	h.orders.quotes[9] = &order.Quote{
		ID:        9,
		Currency:  "EUR",
		ExpiresAt: testNow.Add(time.Hour),
		Items: []order.QuoteItem{
			{VariantID: 1, Quantity: 7, UnitPrice: decimal.RequireFromString("4.00"), TaxAmount: decimal.RequireFromString("5.60")},
			{VariantID: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("3.50"), TaxAmount: decimal.RequireFromString("0.70")},
		},
	}

	h.svc = New(Deps{
		Quotes:   h.orders,
		Orders:   h.orders,
		Checker:  inventory.NewChecker(h.ledger),
		Reserver: inventory.NewCoordinator(h.ledger, nil, logger),
		Provider: h.provider,
		Cache:    h.cache,
		Alerts:   h.alerts,
		Events:   h.events,
		Clock:    h.clock,
		Logger:   logger,
	})
	return h
}

func (h *harness) withChecker(c AvailabilityChecker) {
	h.svc.checker = c
}
