package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

type IntentRequest struct {
	OrderID    int64
	CustomerID int64
	Amount     decimal.Decimal
	Currency   string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// Provider creates payment intents at the remote payment provider.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// ProviderError is a failed provider call. Transient failures (rate limiting,
// server errors, network trouble) may succeed on retry; the rest will not.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("payment provider %s error: %v", kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("payment provider %s error (status %d): %s", kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("payment provider %s error (status %d)", kind, e.StatusCode)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type ClientOptions struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to a Stripe-compatible payment intents API.
type Client struct {
	http *resty.Client
}

func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if opts.SecretKey != "" {
		c.SetAuthToken(opts.SecretKey)
	}
	return &Client{http: c}
}

func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return Intent{}, &ProviderError{Err: err}
	}

	form := map[string]string{
		"amount":             strconv.FormatInt(amount, 10),
		"currency":           strings.ToLower(req.Currency),
		"metadata[order_id]": strconv.FormatInt(req.OrderID, 10),
	}
	if req.CustomerID != 0 {
		form["metadata[customer_id]"] = strconv.FormatInt(req.CustomerID, 10)
	}

	var (
		intent Intent
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		// one intent per order, however often the request is retried
		SetHeader("Idempotency-Key", fmt.Sprintf("order-%d", req.OrderID)).
		SetFormData(form).
		SetResult(&intent).
		SetError(&apiErr).
		Post("/v1/payment_intents")
	if err != nil {
		if ctx.Err() != nil {
			return Intent{}, &ProviderError{Transient: true, Err: ctx.Err()}
		}
		return Intent{}, &ProviderError{Transient: true, Err: err}
	}

	if resp.IsError() {
		return Intent{}, classify(resp, apiErr)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return Intent{}, &ProviderError{StatusCode: resp.StatusCode(), Message: "response missing intent id or client secret"}
	}
	return intent, nil
}

func classify(resp *resty.Response, apiErr apiError) *ProviderError {
	status := resp.StatusCode()
	pe := &ProviderError{
		StatusCode: status,
		Code:       apiErr.Error.Code,
		Message:    apiErr.Error.Message,
		Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			pe.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return pe
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true,
	"MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

// MinorUnits converts amount to the currency's smallest unit. Amounts that do
// not fit the unit exactly are rejected rather than rounded.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp := int32(2)
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		exp = 0
	}
	scaled := amount.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", amount, strings.ToUpper(currency))
	}
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive", amount)
	}
	return scaled.IntPart(), nil
}
