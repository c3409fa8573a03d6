package httpapi

import (
	"net/http"
	"strconv"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
)

const defaultAlertLimit = 100

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	open, err := h.alerts.Open(r.Context(), limit)
	if err != nil {
		h.logger.Printf("list alerts: %v", err)
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if open == nil {
		open = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": open})
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "alertId")
	if !ok {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid alertId"})
		return
	}
	resolved, err := h.alerts.Resolve(r.Context(), id)
	if err != nil {
		h.logger.Printf("resolve alert %d: %v", id, err)
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if !resolved {
		writeError(w, r, http.StatusNotFound, errorResponse{Error: "alert not found or already resolved"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
