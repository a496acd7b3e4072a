package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/pkg/retry"
)

// CustomerService registers customers together with their bank account.
type CustomerService struct {
	beginner  domain.TxBeginner
	customers domain.CustomerStore
	bank      *BankService
	logger    *slog.Logger
}

func NewCustomerService(beginner domain.TxBeginner, customers domain.CustomerStore, bank *BankService, logger *slog.Logger) *CustomerService {
	return &CustomerService{beginner: beginner, customers: customers, bank: bank, logger: logger}
}

// Register creates the customer and a zero-balance bank account atomically.
func (s *CustomerService) Register(ctx context.Context, fullName, email string) (domain.Customer, error) {
	fullName = strings.TrimSpace(fullName)
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if fullName == "" || err != nil {
		return domain.Customer{}, fmt.Errorf("customer_service: register %q: name and a valid email are required: %w", email, domain.ErrInvalidInput)
	}

	c := domain.Customer{FullName: fullName, Email: strings.ToLower(addr.Address)}
	err = unitOfWork(ctx, s.beginner, retry.DefaultConfig(), s.logger, "register customer", func(tx domain.Tx) error {
		id, err := s.customers.Create(ctx, tx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return s.bank.Open(ctx, tx, id)
	})
	if err != nil {
		return domain.Customer{}, fmt.Errorf("customer_service: register: %w", err)
	}

	s.logger.InfoContext(ctx, "customer_service: customer registered", slog.Int64("customer_id", c.ID))
	return c, nil
}

func (s *CustomerService) Get(ctx context.Context, id int64) (domain.Customer, error) {
	c, err := s.customers.GetByID(ctx, nil, id)
	if err != nil {
		return domain.Customer{}, fmt.Errorf("customer_service: get %d: %w", id, err)
	}
	return c, nil
}

// Fund credits the customer's bank account from outside the ledger. It is
// the only way cash enters the system.
func (s *CustomerService) Fund(ctx context.Context, customerID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := unitOfWork(ctx, s.beginner, retry.DefaultConfig(), s.logger, "fund bank account", func(tx domain.Tx) error {
		if err := s.bank.Deposit(ctx, tx, customerID, amount); err != nil {
			return err
		}
		b, err := s.bank.GetBalance(ctx, tx, customerID)
		balance = b
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("customer_service: fund %d: %w", customerID, err)
	}
	s.logger.InfoContext(ctx, "customer_service: bank account funded",
		slog.Int64("customer_id", customerID),
		slog.String("amount", amount.String()),
	)
	return balance, nil
}
