package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// OrderEngine is what the order handler needs from the engine.
// algorithm.Algorithm satisfies it.
type OrderEngine interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrders(ctx context.Context, scope domain.PortfolioScope, q domain.OrderQuery) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderEngine
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderEngine, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger.With(slog.String("handler", "orders")),
	}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns orders in the requested portfolio scope, newest first.
// GET /api/orders?portfolio=main&market=BINANCE&symbol=BTC&status=OPEN,PENDING&limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.OrderQuery{
		TargetSymbol: strings.TrimSpace(q.Get("symbol")),
		Limit:        parseLimit(r),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := domain.ParseOrderStatus(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			query.Statuses = append(query.Statuses, status)
		}
	}

	orders, err := h.orders.GetOrders(r.Context(), parseScope(r), query)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// PlaceOrderRequest is the JSON body for POST /api/orders. Amounts and
// prices are decimal strings.
type PlaceOrderRequest struct {
	Portfolio     string `json:"portfolio"`
	Market        string `json:"market"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	AmountTarget  string `json:"amount_target,omitempty"`
	AmountTrading string `json:"amount_trading,omitempty"`
	// DryRun validates and records the order without submitting it.
	DryRun bool `json:"dry_run,omitempty"`
}

func (p PlaceOrderRequest) toDomain() (domain.OrderRequest, error) {
	side, err := domain.ParseOrderSide(p.Side)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	typ, err := domain.ParseOrderType(p.Type)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	req := domain.OrderRequest{
		Scope:        domain.PortfolioScope{Identifier: p.Portfolio, Market: p.Market},
		TargetSymbol: p.Symbol,
		Side:         side,
		Type:         typ,
		Execute:      !p.DryRun,
		Validate:     true,
	}
	for _, f := range []struct {
		raw string
		dst **decimal.Decimal
	}{
		{p.Price, &req.Price},
		{p.AmountTarget, &req.AmountTarget},
		{p.AmountTrading, &req.AmountTrading},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.OrderRequest{}, err
		}
		*f.dst = &d
	}
	return req, nil
}

// PlaceOrder creates an order through the ledger.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var body PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// CancelOrder cancels an open order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
