package httpapi

import (
	"errors"
	"net/http"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/checkout"
)

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "orderId")
	if !ok {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid orderId"})
		return
	}
	o, err := h.checkout.Order(r.Context(), id)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			writeError(w, r, http.StatusNotFound, errorResponse{Error: "order not found"})
			return
		}
		h.logger.Printf("get order %d: %v", id, err)
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}
