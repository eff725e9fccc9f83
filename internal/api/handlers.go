package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	rt     Runtime
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(rt Runtime, logger *slog.Logger) *Handlers {
	return &Handlers{
		rt:     rt,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns liveness plus bridge connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]any{
		"status":    "ok",
		"connected": h.rt.Connected(),
	})
}

// HandleSnapshot returns the complete runtime state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, BuildSnapshot(h.rt))
}

// HandleOrders returns this session's orders, or the persisted history
// with ?history=1.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") != "" {
		orders, err := h.rt.OrderHistory()
		if err != nil {
			h.logger.Error("order history query failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, orders)
		return
	}
	h.writeJSON(w, h.rt.Orders())
}

// HandleTrades returns this session's fills, or the persisted history
// with ?history=1.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") != "" {
		trades, err := h.rt.TradeHistory()
		if err != nil {
			h.logger.Error("trade history query failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, trades)
		return
	}
	h.writeJSON(w, h.rt.Trades())
}

// HandleHoldings returns per-strategy holdings.
func (h *Handlers) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.rt.Holdings())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}
