package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Post("/api/payments/intent", h.CreatePaymentIntent)

	r.Route("/api/inventory", func(r chi.Router) {
		r.Post("/availability", h.CheckAvailability)
		r.Post("/restock", h.Restock)
		r.Post("/adjust", h.Adjust)
		r.Post("/return", h.RecordReturn)
		r.Get("/{variantId}", h.GetStockLevel)
		r.Get("/{variantId}/movements", h.GetMovements)
	})

	r.Get("/api/orders/{orderId}", h.GetOrder)

	r.Route("/api/ops/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Post("/{alertId}/resolve", h.ResolveAlert)
	})

	return r
}
