package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// BankService manages the customer's cash account outside any portfolio.
type BankService struct {
	accounts domain.BankAccountStore
}

func NewBankService(accounts domain.BankAccountStore) *BankService {
	return &BankService{accounts: accounts}
}

// Open creates a zero-balance account for the customer.
func (s *BankService) Open(ctx context.Context, tx domain.Tx, customerID int64) error {
	if err := s.accounts.Create(ctx, tx, domain.BankAccount{CustomerID: customerID, Balance: decimal.Zero}); err != nil {
		return fmt.Errorf("bank_service: open %d: %w", customerID, err)
	}
	return nil
}

func (s *BankService) GetBalance(ctx context.Context, tx domain.Tx, customerID int64) (decimal.Decimal, error) {
	acct, err := s.accounts.GetByCustomer(ctx, tx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bank_service: balance %d: %w", customerID, err)
	}
	return acct.Balance, nil
}

// Lock reads the account and holds its row until tx ends.
func (s *BankService) Lock(ctx context.Context, tx domain.Tx, customerID int64) (domain.BankAccount, error) {
	acct, err := s.accounts.GetForUpdate(ctx, tx, customerID)
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("bank_service: lock %d: %w", customerID, err)
	}
	return acct, nil
}

func (s *BankService) Deposit(ctx context.Context, tx domain.Tx, customerID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("bank_service: deposit %s: %w", amount, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, customerID, amount, "deposit")
}

func (s *BankService) Withdraw(ctx context.Context, tx domain.Tx, customerID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("bank_service: withdraw %s: %w", amount, domain.ErrInvalidAmount)
	}
	return s.apply(ctx, tx, customerID, amount.Neg(), "withdraw")
}

func (s *BankService) apply(ctx context.Context, tx domain.Tx, customerID int64, delta decimal.Decimal, op string) error {
	acct, err := s.accounts.GetForUpdate(ctx, tx, customerID)
	if err != nil {
		return fmt.Errorf("bank_service: %s: %w", op, err)
	}
	next := acct.Balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("bank_service: %s: balance %s, need %s: %w",
			op, acct.Balance, delta.Neg(), domain.ErrInsufficientFunds)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, customerID, next); err != nil {
		return fmt.Errorf("bank_service: %s: %w", op, err)
	}
	return nil
}
