package trade

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/papertrade/market-engine/internal/auth"
	"github.com/papertrade/market-engine/internal/model"
	"github.com/papertrade/market-engine/internal/respond"
)

// Handler exposes the engine and valuator over HTTP. Every route expects
// auth.Middleware to have stored the caller's identity.
type Handler struct {
	engine   *Engine
	valuator *Valuator
}

// NewHandler creates the order and portfolio HTTP handlers.
func NewHandler(engine *Engine, valuator *Valuator) *Handler {
	return &Handler{engine: engine, valuator: valuator}
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.PlaceOrder)
	r.Get("/orders", h.ListOrders)
	r.Get("/portfolio", h.GetPortfolio)
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	Symbol   string     `json:"symbol"`
	Side     model.Side `json:"side"`
	Quantity int64      `json:"quantity"`
}

// PlaceOrder handles POST /api/v1/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.engine.Execute(r.Context(), auth.UserID(r.Context()), req.Symbol, req.Side, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.Orders(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.OK(w, orders)
}

// GetPortfolio handles GET /api/v1/portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := h.valuator.Valuate(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.OK(w, summary)
}

// writeDomainError maps engine errors to 4xx and anything else to 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientHoldings):
		respond.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("trade request failed", "err", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}
