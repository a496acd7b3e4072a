package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
)

// OrderService is the order repository facade used by the engine and the
// API layer. It validates orders before they reach the store.
type OrderService struct {
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderService creates an OrderService over the given store.
func NewOrderService(orders domain.OrderStore, logger *slog.Logger) *OrderService {
	return &OrderService{orders: orders, logger: logger}
}

// Create validates and persists an order, returning its id.
func (s *OrderService) Create(ctx context.Context, tx domain.Tx, o domain.Order) (int64, error) {
	if err := o.Validate(); err != nil {
		return 0, fmt.Errorf("order_service: create: %w", err)
	}
	id, err := s.orders.Create(ctx, tx, o)
	if err != nil {
		return 0, fmt.Errorf("order_service: create: %w", err)
	}
	return id, nil
}

func (s *OrderService) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Order, error) {
	o, err := s.orders.GetByID(ctx, tx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get %d: %w", id, err)
	}
	return o, nil
}

func (s *OrderService) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, nil, filter)
	if err != nil {
		return nil, fmt.Errorf("order_service: list: %w", err)
	}
	return orders, nil
}

// ListExecutable returns pending orders due on or before asOf.
func (s *OrderService) ListExecutable(ctx context.Context, tx domain.Tx, asOf time.Time) ([]domain.Order, error) {
	orders, err := s.orders.ListExecutable(ctx, tx, asOf)
	if err != nil {
		return nil, fmt.Errorf("order_service: list executable: %w", err)
	}
	return orders, nil
}

// QuotesAvailable returns settled quotes for the pair.
func (s *OrderService) QuotesAvailable(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	n, err := s.orders.QuotesAvailable(ctx, tx, portfolioID, productID)
	if err != nil {
		return 0, fmt.Errorf("order_service: quotes available: %w", err)
	}
	return n, nil
}

// QuotesSellable is settled quotes minus quotes already promised to pending
// sell orders.
func (s *OrderService) QuotesSellable(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	avail, err := s.QuotesAvailable(ctx, tx, portfolioID, productID)
	if err != nil {
		return 0, err
	}
	reserved, err := s.orders.QuotesReserved(ctx, tx, portfolioID, productID)
	if err != nil {
		return 0, fmt.Errorf("order_service: quotes reserved: %w", err)
	}
	return avail - reserved, nil
}

// MarkExecuted claims the order for settlement.
func (s *OrderService) MarkExecuted(ctx context.Context, tx domain.Tx, id int64, at time.Time) error {
	if err := s.orders.MarkExecuted(ctx, tx, id, at); err != nil {
		return fmt.Errorf("order_service: mark %d executed: %w", id, err)
	}
	return nil
}

// Delete removes a pending order. Executed orders are part of the ledger
// history and cannot be deleted.
func (s *OrderService) Delete(ctx context.Context, id int64) error {
	if err := s.orders.Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("order_service: delete %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "order_service: pending order deleted", slog.Int64("order_id", id))
	return nil
}
