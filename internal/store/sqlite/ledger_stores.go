package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore on SQLite.
type PortfolioStore struct {
	db *sql.DB
}

const portfolioSelectCols = `id, customer_id, name, description, balance, created_at`

func scanPortfolio(scanner interface{ Scan(dest ...any) error }) (domain.Portfolio, error) {
	var (
		p         domain.Portfolio
		createdAt string
	)
	if err := scanner.Scan(&p.ID, &p.CustomerID, &p.Name, &p.Description, &p.Balance, &createdAt); err != nil {
		return domain.Portfolio{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return domain.Portfolio{}, err
	}
	p.CreatedAt = t
	return p, nil
}

func (s *PortfolioStore) Create(ctx context.Context, tx domain.Tx, p domain.Portfolio) (int64, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return 0, err
	}

	now := nowText()
	res, err := q.ExecContext(ctx, `
		INSERT INTO portfolios (customer_id, name, description, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.CustomerID, p.Name, p.Description, p.Balance, now, now)
	if err != nil {
		return 0, storageErr("create portfolio", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create portfolio id", err)
	}
	return id, nil
}

func (s *PortfolioStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return domain.Portfolio{}, err
	}

	p, err := scanPortfolio(q.QueryRowContext(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, storageErr(fmt.Sprintf("get portfolio %d", id), err)
	}
	return p, nil
}

// GetForUpdate reads inside tx. The immediate transaction already holds the
// database write lock, so no row lock is needed.
func (s *PortfolioStore) GetForUpdate(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	if tx == nil {
		return domain.Portfolio{}, fmt.Errorf("sqlite: lock portfolio %d: %w", id, errForeignTx)
	}
	return s.GetByID(ctx, tx, id)
}

func (s *PortfolioStore) ListByCustomer(ctx context.Context, tx domain.Tx, customerID int64) ([]domain.Portfolio, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, storageErr("list portfolios", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, storageErr("scan portfolio", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list portfolios rows", err)
	}
	return out, nil
}

func (s *PortfolioStore) UpdateBalance(ctx context.Context, tx domain.Tx, id int64, balance decimal.Decimal) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx,
		`UPDATE portfolios SET balance = ?, updated_at = ? WHERE id = ?`, balance, nowText(), id)
	if err != nil {
		return storageErr(fmt.Sprintf("update portfolio %d balance", id), err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// BankAccountStore implements domain.BankAccountStore on SQLite.
type BankAccountStore struct {
	db *sql.DB
}

func (s *BankAccountStore) Create(ctx context.Context, tx domain.Tx, acct domain.BankAccount) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO bank_accounts (customer_id, balance, updated_at) VALUES (?, ?, ?)`,
		acct.CustomerID, acct.Balance, nowText())
	if err != nil {
		return storageErr(fmt.Sprintf("create bank account %d", acct.CustomerID), err)
	}
	return nil
}

func (s *BankAccountStore) GetByCustomer(ctx context.Context, tx domain.Tx, customerID int64) (domain.BankAccount, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return domain.BankAccount{}, err
	}

	var acct domain.BankAccount
	err = q.QueryRowContext(ctx,
		`SELECT customer_id, balance FROM bank_accounts WHERE customer_id = ?`, customerID,
	).Scan(&acct.CustomerID, &acct.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BankAccount{}, domain.ErrNotFound
		}
		return domain.BankAccount{}, storageErr(fmt.Sprintf("get bank account %d", customerID), err)
	}
	return acct, nil
}

func (s *BankAccountStore) GetForUpdate(ctx context.Context, tx domain.Tx, customerID int64) (domain.BankAccount, error) {
	if tx == nil {
		return domain.BankAccount{}, fmt.Errorf("sqlite: lock bank account %d: %w", customerID, errForeignTx)
	}
	return s.GetByCustomer(ctx, tx, customerID)
}

func (s *BankAccountStore) UpdateBalance(ctx context.Context, tx domain.Tx, customerID int64, balance decimal.Decimal) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx,
		`UPDATE bank_accounts SET balance = ?, updated_at = ? WHERE customer_id = ?`,
		balance, nowText(), customerID)
	if err != nil {
		return storageErr(fmt.Sprintf("update bank account %d", customerID), err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// HoldingStore implements domain.HoldingStore on SQLite.
type HoldingStore struct {
	db *sql.DB
}

func (s *HoldingStore) Exists(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (bool, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return false, err
	}

	var n int
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM portfolio_products WHERE portfolio_id = ? AND product_id = ?`,
		portfolioID, productID,
	).Scan(&n)
	if err != nil {
		return false, storageErr("holding exists", err)
	}
	return n > 0, nil
}

func (s *HoldingStore) Create(ctx context.Context, tx domain.Tx, h domain.Holding) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	createdAt := nowText()
	if !h.CreatedAt.IsZero() {
		createdAt = fmtTime(h.CreatedAt)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO portfolio_products (portfolio_id, product_id, created_at) VALUES (?, ?, ?)`,
		h.PortfolioID, h.ProductID, createdAt)
	if err != nil {
		return storageErr(fmt.Sprintf("create holding %d/%d", h.PortfolioID, h.ProductID), err)
	}
	return nil
}

func (s *HoldingStore) Delete(ctx context.Context, tx domain.Tx, portfolioID, productID int64) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx,
		`DELETE FROM portfolio_products WHERE portfolio_id = ? AND product_id = ?`, portfolioID, productID)
	if err != nil {
		return storageErr(fmt.Sprintf("delete holding %d/%d", portfolioID, productID), err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *HoldingStore) ListByPortfolio(ctx context.Context, tx domain.Tx, portfolioID int64) ([]domain.Holding, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT portfolio_id, product_id, created_at FROM portfolio_products
		 WHERE portfolio_id = ? ORDER BY product_id`, portfolioID)
	if err != nil {
		return nil, storageErr("list holdings", err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var (
			h         domain.Holding
			createdAt string
		)
		if err := rows.Scan(&h.PortfolioID, &h.ProductID, &createdAt); err != nil {
			return nil, storageErr("scan holding", err)
		}
		if h.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storageErr("parse holding time", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list holdings rows", err)
	}
	return out, nil
}

// CustomerStore implements domain.CustomerStore on SQLite.
type CustomerStore struct {
	db *sql.DB
}

func (s *CustomerStore) Create(ctx context.Context, tx domain.Tx, c domain.Customer) (int64, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO customers (full_name, email, created_at) VALUES (?, ?, ?)`,
		c.FullName, c.Email, nowText())
	if err != nil {
		return 0, storageErr("create customer", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create customer id", err)
	}
	return id, nil
}

func (s *CustomerStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Customer, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return domain.Customer{}, err
	}

	var (
		c         domain.Customer
		createdAt string
	)
	err = q.QueryRowContext(ctx,
		`SELECT id, full_name, email, created_at FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.FullName, &c.Email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrNotFound
		}
		return domain.Customer{}, storageErr(fmt.Sprintf("get customer %d", id), err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Customer{}, storageErr("parse customer time", err)
	}
	return c, nil
}

var (
	_ domain.PortfolioStore   = (*PortfolioStore)(nil)
	_ domain.BankAccountStore = (*BankAccountStore)(nil)
	_ domain.HoldingStore     = (*HoldingStore)(nil)
	_ domain.CustomerStore    = (*CustomerStore)(nil)
)
