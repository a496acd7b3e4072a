package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/service"
)

// OrderService defines the order repository methods the handler requires.
type OrderService interface {
	GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	Delete(ctx context.Context, id int64) error
}

// OrderExecutor settles orders on demand.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, id int64) (domain.Order, error)
	ExecuteDueOrders(ctx context.Context) (service.BatchReport, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders   OrderService
	executor OrderExecutor
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given services and logger.
func NewOrderHandler(orders OrderService, executor OrderExecutor, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		executor: executor,
		logger:   logger,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// batchResponse is the JSON form of a settlement run.
type batchResponse struct {
	service.BatchReport
	Failures map[int64]string `json:"failures"`
}

// ListOrders returns orders filtered by portfolio, product and status.
// GET /api/orders?portfolio_id=1&product_id=2&status=pending&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := queryID(r, "portfolio_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := queryID(r, "product_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.OrderStatusPending, domain.OrderStatusExecuted:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be pending or executed")
		return
	}

	opts, err := listOpts(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	filter := domain.OrderFilter{
		PortfolioID: portfolioID,
		ProductID:   productID,
		Status:      status,
		ListOpts:    opts,
	}
	orders, err := h.orders.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{
		Orders: orders,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetOrder returns a single order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.orders.GetByID(r.Context(), nil, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ExecuteOrder settles one pending order whose date has arrived.
// POST /api/orders/{id}/execute
func (h *OrderHandler) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.executor.ExecuteOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "execute order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// DeleteOrder removes a pending order. Executed orders are refused.
// DELETE /api/orders/{id}
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.orders.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "deleted",
		"order_id": id,
	})
}

// ExecuteDue runs one settlement batch over every due order. Per-order
// failures are part of the report, not an HTTP error.
// POST /api/orders/execute-due
func (h *OrderHandler) ExecuteDue(w http.ResponseWriter, r *http.Request) {
	report, err := h.executor.ExecuteDueOrders(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "execute due orders", err)
		return
	}
	if report.Failed() > 0 {
		h.logger.WarnContext(r.Context(), "handler: batch finished with failures",
			slog.String("run_id", report.RunID),
			slog.Int("failed", report.Failed()),
		)
	}
	writeJSON(w, http.StatusOK, batchResponse{
		BatchReport: report,
		Failures:    report.FailureMessages(),
	})
}
