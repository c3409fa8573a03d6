package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/telemetry"
)

// IntentEndpoint scopes cached payment-intent responses.
const IntentEndpoint = "POST /api/payments/intent"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Request struct {
	QuoteID        int64
	CustomerID     int64
	IdempotencyKey string
	// Endpoint is the cache scope; IntentEndpoint when empty.
	Endpoint string
}

// Result is the response to hand back to the client. Replays carry the
// original status and body byte for byte.
type Result struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

type IntentResponse struct {
	OrderID         int64  `json:"orderId"`
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type Deps struct {
	Quotes   order.QuoteRepository
	Orders   order.Repository
	Checker  AvailabilityChecker
	Reserver StockReserver
	Provider payment.Provider
	Cache    ResponseCache
	Alerts   AlertSink
	Events   Events
	Clock    clock.Clock
	Logger   *log.Logger
}

// Service runs the payment-intent flow:
// replay, validate, precheck, create order, reserve, call provider, then
// finalize or compensate.
type Service struct {
	quotes   order.QuoteRepository
	orders   order.Repository
	checker  AvailabilityChecker
	reserver StockReserver
	provider payment.Provider
	cache    ResponseCache
	alerts   AlertSink
	events   Events
	clock    clock.Clock
	logger   *log.Logger

	tracer        trace.Tracer
	intents       metric.Int64Counter
	replays       metric.Int64Counter
	compensations metric.Int64Counter
}

func New(d Deps) *Service {
	s := &Service{
		quotes:   d.Quotes,
		orders:   d.Orders,
		checker:  d.Checker,
		reserver: d.Reserver,
		provider: d.Provider,
		cache:    d.Cache,
		alerts:   d.Alerts,
		events:   d.Events,
		clock:    d.Clock,
		logger:   d.Logger,
		tracer:   otel.Tracer(telemetry.InstrumentationName),
	}
	if s.clock == nil {
		s.clock = clock.NewSystem()
	}

	meter := otel.Meter(telemetry.InstrumentationName)
	// instrument creation only fails on invalid names
	s.intents, _ = meter.Int64Counter("checkout.payment_intents", metric.WithDescription("payment intent requests by outcome"))
	s.replays, _ = meter.Int64Counter("checkout.idempotent_replays", metric.WithDescription("responses served from the idempotency cache"))
	s.compensations, _ = meter.Int64Counter("checkout.compensations", metric.WithDescription("compensation runs by path"))
	return s
}

func (s *Service) CreatePaymentIntent(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreatePaymentIntent",
		trace.WithAttributes(attribute.Int64("quote.id", req.QuoteID)))
	defer func() {
		outcome := "created"
		switch {
		case err != nil:
			outcome = outcomeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		case res.Replayed:
			outcome = "replayed"
		}
		s.intents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	if req.Endpoint == "" {
		req.Endpoint = IntentEndpoint
	}
	if err := idempotency.ValidateKey(req.IdempotencyKey); err != nil {
		return Result{}, &ValidationError{Field: "Idempotency-Key", Message: err.Error()}
	}

	// START -> REPLAY
	if req.IdempotencyKey != "" {
		rec, err := s.cache.Lookup(ctx, req.IdempotencyKey, req.Endpoint)
		if err != nil {
			return Result{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if rec != nil {
			s.replays.Add(ctx, 1)
			s.logger.Printf("replaying cached response key=%q endpoint=%q", req.IdempotencyKey, req.Endpoint)
			return Result{StatusCode: rec.StatusCode, Body: rec.Body, Replayed: true}, nil
		}
	}

	// VALIDATE
	quote, lines, amount, err := s.validate(ctx, req)
	if err != nil {
		return Result{}, err
	}

	// PRECHECK_STOCK
	avail, err := s.checker.Check(ctx, lines)
	if err != nil {
		return Result{}, fmt.Errorf("precheck stock: %w", err)
	}
	if !avail.Available {
		return Result{}, &OutOfStockError{Items: avail.Insufficient}
	}

	// CREATE_ORDER_SKELETON
	o := order.NewFromQuote(*quote, req.CustomerID)
	if err := s.orders.CreateSkeleton(ctx, o); err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", o.ID))
	s.logger.Printf("order skeleton created order=%d quote=%d", o.ID, quote.ID)

	// RESERVE_STOCK
	reserved, err := s.reserve(ctx, o.ID, lines)
	if err != nil {
		// a failed reserve may have left holds the coordinator could not undo
		s.compensate(ctx, o.ID, pathB, err)
		return Result{}, fmt.Errorf("reserve stock for order %d: %w", o.ID, err)
	}
	if !reserved.Reserved {
		s.compensate(ctx, o.ID, pathA, errors.New("reservation race lost"))
		return Result{}, &OutOfStockError{Items: reserved.Insufficient, Race: true}
	}

	// CALL_PROVIDER
	intent, err := s.callProvider(ctx, o, amount)
	if err != nil {
		s.compensate(ctx, o.ID, pathB, err)
		return Result{}, fmt.Errorf("create payment intent for order %d: %w", o.ID, err)
	}

	// FINALIZE
	return s.finalize(ctx, req, o, intent, amount)
}

func (s *Service) validate(ctx context.Context, req Request) (*order.Quote, []inventory.Line, int64, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.validate")
	defer span.End()

	if req.QuoteID <= 0 {
		return nil, nil, 0, &ValidationError{Field: "quoteId", Message: "must be a positive integer"}
	}
	if req.CustomerID < 0 {
		return nil, nil, 0, &ValidationError{Field: "customerId", Message: "must not be negative"}
	}

	quote, err := s.quotes.GetQuote(ctx, req.QuoteID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, nil, 0, ErrQuoteNotFound
		}
		return nil, nil, 0, fmt.Errorf("load quote %d: %w", req.QuoteID, err)
	}
	if quote.Expired(s.clock.Now()) {
		return nil, nil, 0, ErrQuoteExpired
	}
	if req.CustomerID != 0 && quote.CustomerID != 0 && req.CustomerID != quote.CustomerID {
		return nil, nil, 0, &ValidationError{Field: "customerId", Message: "quote belongs to another customer"}
	}

	quote.Currency = strings.ToUpper(strings.TrimSpace(quote.Currency))
	if !currencyPattern.MatchString(quote.Currency) {
		return nil, nil, 0, &ValidationError{Field: "currency", Message: fmt.Sprintf("%q is not a 3-letter currency code", quote.Currency)}
	}
	if len(quote.Items) == 0 {
		return nil, nil, 0, &ValidationError{Field: "items", Message: "quote has no items"}
	}

	lines := make([]inventory.Line, 0, len(quote.Items))
	for _, it := range quote.Items {
		if it.UnitPrice.IsNegative() || it.TaxAmount.IsNegative() {
			return nil, nil, 0, &ValidationError{Field: "items", Message: fmt.Sprintf("variant %d has a negative price", it.VariantID)}
		}
		lines = append(lines, inventory.Line{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	if _, err := inventory.NormalizeLines(lines); err != nil {
		return nil, nil, 0, &ValidationError{Field: "items", Message: err.Error()}
	}

	_, _, total := quote.Totals()
	amount, err := payment.MinorUnits(total, quote.Currency)
	if err != nil {
		return nil, nil, 0, &ValidationError{Field: "total", Message: err.Error()}
	}
	return quote, lines, amount, nil
}

func (s *Service) reserve(ctx context.Context, orderID int64, lines []inventory.Line) (inventory.ReserveResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.reserve_stock", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	res, err := s.reserver.Reserve(ctx, orderID, lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
	}
	span.SetAttributes(attribute.Bool("stock.reserved", res.Reserved))
	return res, err
}

func (s *Service) callProvider(ctx context.Context, o *order.Order, amount int64) (payment.Intent, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.call_provider", trace.WithAttributes(attribute.Int64("order.id", o.ID)))
	defer span.End()

	intent, err := s.provider.CreateIntent(ctx, payment.IntentRequest{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Total,
		Currency:   o.Currency,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		s.logger.Printf("payment provider failed order=%d amount=%d %s transient=%t: %v",
			o.ID, amount, o.Currency, payment.IsTransient(err), err)
		return payment.Intent{}, err
	}
	span.SetAttributes(attribute.String("payment.intent_id", intent.ID))
	return intent, nil
}

func (s *Service) finalize(ctx context.Context, req Request, o *order.Order, intent payment.Intent, amount int64) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.finalize", trace.WithAttributes(attribute.Int64("order.id", o.ID)))
	defer span.End()

	if err := s.orders.SetPaymentReference(ctx, o.ID, intent.ID); err != nil {
		// the client never sees the secret, so the provider's intent lapses unpaid
		s.compensate(ctx, o.ID, pathB, err)
		return Result{}, fmt.Errorf("store payment reference for order %d: %w", o.ID, err)
	}

	if err := s.quotes.DeleteQuote(ctx, o.QuoteID); err != nil {
		s.logger.Printf("drop quote=%d for order=%d failed: %v", o.QuoteID, o.ID, err)
	}

	body, err := json.Marshal(IntentResponse{
		OrderID:         o.ID,
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          amount,
		Currency:        strings.ToLower(o.Currency),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal response: %w", err)
	}
	res := Result{StatusCode: http.StatusCreated, Body: body}

	if req.IdempotencyKey != "" {
		if _, err := s.cache.Store(ctx, req.IdempotencyKey, req.Endpoint, res.StatusCode, res.Body); err != nil {
			s.logger.Printf("idempotency store failed key=%q order=%d: %v", req.IdempotencyKey, o.ID, err)
		}
	}

	if s.events != nil {
		if err := s.events.PaymentIntentCreated(ctx, o.ID, intent.ID, amount, o.Currency); err != nil {
			s.logger.Printf("publish payment intent created failed order=%d: %v", o.ID, err)
		}
	}

	s.logger.Printf("payment intent created order=%d intent=%s amount=%d %s", o.ID, intent.ID, amount, o.Currency)
	return res, nil
}

func outcomeOf(err error) string {
	var (
		oos *OutOfStockError
		pe  *ProviderError
		ve  *ValidationError
	)
	switch {
	case errors.As(err, &oos):
		if oos.Race {
			return "reservation_race"
		}
		return "out_of_stock"
	case errors.As(err, &pe):
		if pe.Transient {
			return "provider_transient"
		}
		return "provider_permanent"
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, ErrQuoteNotFound), errors.Is(err, ErrQuoteExpired):
		return "quote_unusable"
	default:
		return "error"
	}
}
