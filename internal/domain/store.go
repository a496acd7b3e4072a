package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Tx is an open unit of work. Every store call that belongs to the unit
// receives the same Tx; Rollback after a successful Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner opens transactions against a ledger store.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Store methods accept a nil Tx to run a single statement outside any unit
// of work.

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, tx Tx, order Order) (int64, error)
	GetByID(ctx context.Context, tx Tx, id int64) (Order, error)
	List(ctx context.Context, tx Tx, filter OrderFilter) ([]Order, error)
	// ListExecutable returns unexecuted orders whose liquidation date is on
	// or before asOf, ordered by id.
	ListExecutable(ctx context.Context, tx Tx, asOf time.Time) ([]Order, error)
	// QuotesAvailable is executed buys minus executed sells.
	QuotesAvailable(ctx context.Context, tx Tx, portfolioID, productID int64) (int, error)
	// QuotesReserved is the total of pending sell orders.
	QuotesReserved(ctx context.Context, tx Tx, portfolioID, productID int64) (int, error)
	// MarkExecuted stamps an unexecuted order. It returns ErrAlreadyExecuted
	// when the order was settled by someone else.
	MarkExecuted(ctx context.Context, tx Tx, id int64, at time.Time) error
	Delete(ctx context.Context, tx Tx, id int64) error
	ListExecutedBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// PortfolioStore persists portfolios and their cash balance.
type PortfolioStore interface {
	Create(ctx context.Context, tx Tx, p Portfolio) (int64, error)
	GetByID(ctx context.Context, tx Tx, id int64) (Portfolio, error)
	// GetForUpdate reads the row and holds it until tx ends.
	GetForUpdate(ctx context.Context, tx Tx, id int64) (Portfolio, error)
	ListByCustomer(ctx context.Context, tx Tx, customerID int64) ([]Portfolio, error)
	UpdateBalance(ctx context.Context, tx Tx, id int64, balance decimal.Decimal) error
}

// BankAccountStore persists customer bank accounts.
type BankAccountStore interface {
	Create(ctx context.Context, tx Tx, acct BankAccount) error
	GetByCustomer(ctx context.Context, tx Tx, customerID int64) (BankAccount, error)
	GetForUpdate(ctx context.Context, tx Tx, customerID int64) (BankAccount, error)
	UpdateBalance(ctx context.Context, tx Tx, customerID int64, balance decimal.Decimal) error
}

// HoldingStore persists portfolio-product relations.
type HoldingStore interface {
	Exists(ctx context.Context, tx Tx, portfolioID, productID int64) (bool, error)
	Create(ctx context.Context, tx Tx, h Holding) error
	Delete(ctx context.Context, tx Tx, portfolioID, productID int64) error
	ListByPortfolio(ctx context.Context, tx Tx, portfolioID int64) ([]Holding, error)
}

// ProductStore persists products.
type ProductStore interface {
	Create(ctx context.Context, p Product) (int64, error)
	GetByID(ctx context.Context, id int64) (Product, error)
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
	List(ctx context.Context, opts ListOpts) ([]Product, error)
}

// CustomerStore persists customers.
type CustomerStore interface {
	Create(ctx context.Context, tx Tx, c Customer) (int64, error)
	GetByID(ctx context.Context, tx Tx, id int64) (Customer, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit query. Zero fields match everything.
type AuditFilter struct {
	Event       string
	PortfolioID int64 // matches detail.portfolio_id
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// AuditStore persists an append-only audit log. List returns newest first.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Ledger bundles every store of one backend.
type Ledger struct {
	Tx         TxBeginner
	Orders     OrderStore
	Portfolios PortfolioStore
	Accounts   BankAccountStore
	Holdings   HoldingStore
	Products   ProductStore
	Customers  CustomerStore
	Audit      AuditStore
}
