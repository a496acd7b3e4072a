package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// PortfolioService owns a portfolio's cash balance. Every mutation locks the
// portfolio row inside the caller's transaction before writing.
type PortfolioService struct {
	portfolios domain.PortfolioStore
	logger     *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(portfolios domain.PortfolioStore, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{portfolios: portfolios, logger: logger}
}

// Create opens a portfolio with a zero balance.
func (s *PortfolioService) Create(ctx context.Context, tx domain.Tx, customerID int64, name, description string) (domain.Portfolio, error) {
	p := domain.Portfolio{
		CustomerID:  customerID,
		Name:        name,
		Description: description,
		Balance:     decimal.Zero,
	}
	id, err := s.portfolios.Create(ctx, tx, p)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: create: %w", err)
	}
	p.ID = id
	return p, nil
}

func (s *PortfolioService) Get(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	p, err := s.portfolios.GetByID(ctx, tx, id)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: get %d: %w", id, err)
	}
	return p, nil
}

// Lock reads the portfolio and holds its row until tx ends.
func (s *PortfolioService) Lock(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	p, err := s.portfolios.GetForUpdate(ctx, tx, id)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: lock %d: %w", id, err)
	}
	return p, nil
}

func (s *PortfolioService) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Portfolio, error) {
	out, err := s.portfolios.ListByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list customer %d: %w", customerID, err)
	}
	return out, nil
}

func (s *PortfolioService) GetBalance(ctx context.Context, tx domain.Tx, id int64) (decimal.Decimal, error) {
	p, err := s.Get(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Balance, nil
}

// Deposit credits amount to the portfolio.
func (s *PortfolioService) Deposit(ctx context.Context, tx domain.Tx, id int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("portfolio_service: deposit %s: %w", amount, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, id, amount, "deposit")
}

// Withdraw debits amount, failing with ErrInsufficientFunds when the balance
// does not cover it.
func (s *PortfolioService) Withdraw(ctx context.Context, tx domain.Tx, id int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("portfolio_service: withdraw %s: %w", amount, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, id, amount.Neg(), "withdraw")
}

// ExecuteBuy debits the net value of a settled buy.
func (s *PortfolioService) ExecuteBuy(ctx context.Context, tx domain.Tx, id int64, netValue decimal.Decimal) error {
	if !netValue.IsPositive() {
		return fmt.Errorf("portfolio_service: execute buy %s: %w", netValue, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, id, netValue.Neg(), "execute buy")
}

// ExecuteSell credits the net value of a settled sell.
func (s *PortfolioService) ExecuteSell(ctx context.Context, tx domain.Tx, id int64, netValue decimal.Decimal) error {
	if !netValue.IsPositive() {
		return fmt.Errorf("portfolio_service: execute sell %s: %w", netValue, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, id, netValue, "execute sell")
}

func (s *PortfolioService) apply(ctx context.Context, tx domain.Tx, id int64, delta decimal.Decimal, op string) error {
	p, err := s.portfolios.GetForUpdate(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("portfolio_service: %s: %w", op, err)
	}
	next := p.Balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("portfolio_service: %s: balance %s, need %s: %w",
			op, p.Balance, delta.Neg(), domain.ErrInsufficientFunds)
	}
	if err := s.portfolios.UpdateBalance(ctx, tx, id, next); err != nil {
		return fmt.Errorf("portfolio_service: %s: %w", op, err)
	}
	s.logger.DebugContext(ctx, "portfolio_service: balance changed",
		slog.String("op", op),
		slog.Int64("portfolio_id", id),
		slog.String("delta", delta.String()),
		slog.String("balance", next.String()),
	)
	return nil
}
