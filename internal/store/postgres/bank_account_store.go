package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// BankAccountStore implements domain.BankAccountStore using PostgreSQL.
type BankAccountStore struct {
	pool *pgxpool.Pool
}

// NewBankAccountStore creates a new BankAccountStore backed by the given pool.
func NewBankAccountStore(pool *pgxpool.Pool) *BankAccountStore {
	return &BankAccountStore{pool: pool}
}

// Create opens an account for a customer.
func (s *BankAccountStore) Create(ctx context.Context, tx domain.Tx, acct domain.BankAccount) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`INSERT INTO bank_accounts (customer_id, balance) VALUES ($1, $2)`,
		acct.CustomerID, acct.Balance)
	if err != nil {
		return storageErr(fmt.Sprintf("create bank account %d", acct.CustomerID), err)
	}
	return nil
}

// GetByCustomer reads an account without locking it.
func (s *BankAccountStore) GetByCustomer(ctx context.Context, tx domain.Tx, customerID int64) (domain.BankAccount, error) {
	return s.get(ctx, tx, customerID, "")
}

// GetForUpdate reads an account and locks its row until tx ends.
func (s *BankAccountStore) GetForUpdate(ctx context.Context, tx domain.Tx, customerID int64) (domain.BankAccount, error) {
	if tx == nil {
		return domain.BankAccount{}, fmt.Errorf("postgres: lock bank account %d: %w", customerID, errForeignTx)
	}
	return s.get(ctx, tx, customerID, " FOR UPDATE")
}

func (s *BankAccountStore) get(ctx context.Context, tx domain.Tx, customerID int64, suffix string) (domain.BankAccount, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return domain.BankAccount{}, err
	}

	var acct domain.BankAccount
	err = q.QueryRow(ctx,
		`SELECT customer_id, balance FROM bank_accounts WHERE customer_id = $1`+suffix, customerID,
	).Scan(&acct.CustomerID, &acct.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BankAccount{}, domain.ErrNotFound
		}
		return domain.BankAccount{}, storageErr(fmt.Sprintf("get bank account %d", customerID), err)
	}
	return acct, nil
}

// UpdateBalance overwrites the account balance.
func (s *BankAccountStore) UpdateBalance(ctx context.Context, tx domain.Tx, customerID int64, balance decimal.Decimal) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx,
		`UPDATE bank_accounts SET balance = $1, updated_at = NOW() WHERE customer_id = $2`,
		balance, customerID)
	if err != nil {
		return storageErr(fmt.Sprintf("update bank account %d", customerID), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.BankAccountStore = (*BankAccountStore)(nil)
