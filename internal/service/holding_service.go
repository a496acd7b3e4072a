package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/everest/internal/domain"
)

// HoldingService tracks which products a portfolio currently holds.
type HoldingService struct {
	holdings domain.HoldingStore
}

func NewHoldingService(holdings domain.HoldingStore) *HoldingService {
	return &HoldingService{holdings: holdings}
}

func (s *HoldingService) Exists(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (bool, error) {
	ok, err := s.holdings.Exists(ctx, tx, portfolioID, productID)
	if err != nil {
		return false, fmt.Errorf("holding_service: exists: %w", err)
	}
	return ok, nil
}

func (s *HoldingService) Create(ctx context.Context, tx domain.Tx, portfolioID, productID int64) error {
	if err := s.holdings.Create(ctx, tx, domain.Holding{PortfolioID: portfolioID, ProductID: productID}); err != nil {
		return fmt.Errorf("holding_service: create %d/%d: %w", portfolioID, productID, err)
	}
	return nil
}

// Dispose removes the relation. It fails with ErrNotFound when there is none.
func (s *HoldingService) Dispose(ctx context.Context, tx domain.Tx, portfolioID, productID int64) error {
	if err := s.holdings.Delete(ctx, tx, portfolioID, productID); err != nil {
		return fmt.Errorf("holding_service: dispose %d/%d: %w", portfolioID, productID, err)
	}
	return nil
}

func (s *HoldingService) ListByPortfolio(ctx context.Context, tx domain.Tx, portfolioID int64) ([]domain.Holding, error) {
	out, err := s.holdings.ListByPortfolio(ctx, tx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("holding_service: list %d: %w", portfolioID, err)
	}
	return out, nil
}
