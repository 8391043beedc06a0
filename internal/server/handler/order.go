package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// OrderQuerier defines the order-ledger read the handler requires.
type OrderQuerier interface {
	Query(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
}

// OrderHandler serves read-only order ledger endpoints.
type OrderHandler struct {
	orders OrderQuerier
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderQuerier, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns the owner's orders, optionally filtered by venue,
// symbol, and status.
// GET /api/orders?owner=...&venue=...&symbol=...&status=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	opts := parseListOpts(r)
	filter := domain.OrderFilter{
		Owner:  owner,
		Venue:  domain.Venue(q.Get("venue")),
		Symbol: q.Get("symbol"),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for _, st := range q["status"] {
		filter.Statuses = append(filter.Statuses, domain.OrderStatus(st))
	}

	orders, err := h.orders.Query(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}
