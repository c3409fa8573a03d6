package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/checkout"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

type paymentIntentRequest struct {
	QuoteID    int64 `json:"quoteId"`
	CustomerID int64 `json:"customerId,omitempty"`
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	res, err := h.checkout.CreatePaymentIntent(r.Context(), checkout.Request{
		QuoteID:        req.QuoteID,
		CustomerID:     req.CustomerID,
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		Endpoint:       r.Method + " " + r.URL.Path,
	})
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if res.Replayed {
		w.Header().Set(headerReplayed, "true")
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *checkout.ValidationError
		oos *checkout.OutOfStockError
		pe  *checkout.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, checkout.ErrQuoteNotFound):
		writeError(w, r, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, checkout.ErrQuoteExpired):
		writeError(w, r, http.StatusGone, errorResponse{Error: err.Error()})
	case errors.As(err, &oos):
		writeError(w, r, http.StatusConflict, errorResponse{Error: "insufficient stock", Items: oos.Items})
	case errors.As(err, &pe) && pe.Transient:
		w.Header().Set("Retry-After", retryAfterSeconds(pe.RetryAfter))
		writeError(w, r, http.StatusServiceUnavailable, errorResponse{Error: "payment provider unavailable, retry later"})
	case errors.As(err, &pe):
		writeError(w, r, http.StatusBadGateway, errorResponse{Error: "payment provider rejected the request"})
	default:
		h.logger.Printf("create payment intent: %v", err)
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
