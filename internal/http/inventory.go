package httpapi

import (
	"errors"
	"net/http"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
)

type availabilityRequest struct {
	Items []inventory.Line `json:"items"`
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	avail, err := h.checker.Check(r.Context(), req.Items)
	if err != nil {
		h.writeStockError(w, r, "check availability", err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func (h *Handler) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "variantId")
	if !ok {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid variantId"})
		return
	}
	level, err := h.stock.Level(r.Context(), id)
	if err != nil {
		h.writeStockError(w, r, "stock level", err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "variantId")
	if !ok {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid variantId"})
		return
	}
	history, err := h.stock.History(r.Context(), id)
	if err != nil {
		h.writeStockError(w, r, "movements", err)
		return
	}
	if history == nil {
		history = []inventory.Movement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"variantId": id, "movements": history})
}

type stockChangeRequest struct {
	VariantID int64  `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Title     string `json:"title,omitempty"`
	OrderID   int64  `json:"orderId,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	h.stockChange(w, r, "restock", func(req stockChangeRequest) (inventory.StockLevel, error) {
		return h.stock.Restock(r.Context(), req.VariantID, req.Quantity, req.Title, req.Note)
	})
}

// Adjust takes a signed quantity.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.stockChange(w, r, "adjust", func(req stockChangeRequest) (inventory.StockLevel, error) {
		return h.stock.Adjust(r.Context(), req.VariantID, req.Quantity, req.Note)
	})
}

func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	h.stockChange(w, r, "return", func(req stockChangeRequest) (inventory.StockLevel, error) {
		return h.stock.RecordReturn(r.Context(), req.VariantID, req.Quantity, req.OrderID, req.Note)
	})
}

func (h *Handler) stockChange(w http.ResponseWriter, r *http.Request, op string, apply func(stockChangeRequest) (inventory.StockLevel, error)) {
	var req stockChangeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	level, err := apply(req)
	if err != nil {
		h.writeStockError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// writeStockError maps inventory failures. Unexpected errors are logged and
// reported as 500.
func (h *Handler) writeStockError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidLine), errors.Is(err, inventory.ErrInvalidDelta):
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, errorResponse{Error: "not found"})
	default:
		h.logger.Printf("%s: %v", op, err)
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
