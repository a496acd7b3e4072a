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

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `id, customer_id, name, description, balance, created_at`

func scanPortfolio(scanner interface{ Scan(dest ...any) error }) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := scanner.Scan(&p.ID, &p.CustomerID, &p.Name, &p.Description, &p.Balance, &p.CreatedAt)
	return p, err
}

// Create inserts a portfolio and returns its id.
func (s *PortfolioStore) Create(ctx context.Context, tx domain.Tx, p domain.Portfolio) (int64, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO portfolios (customer_id, name, description, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.CustomerID, p.Name, p.Description, p.Balance,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create portfolio", err)
	}
	return id, nil
}

// GetByID reads a portfolio without locking it.
func (s *PortfolioStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	return s.get(ctx, tx, id, "")
}

// GetForUpdate reads a portfolio and locks its row until tx ends.
func (s *PortfolioStore) GetForUpdate(ctx context.Context, tx domain.Tx, id int64) (domain.Portfolio, error) {
	if tx == nil {
		return domain.Portfolio{}, fmt.Errorf("postgres: lock portfolio %d: %w", id, errForeignTx)
	}
	return s.get(ctx, tx, id, " FOR UPDATE")
}

func (s *PortfolioStore) get(ctx context.Context, tx domain.Tx, id int64, suffix string) (domain.Portfolio, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return domain.Portfolio{}, err
	}

	p, err := scanPortfolio(q.QueryRow(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, domain.ErrNotFound
		}
		return domain.Portfolio{}, storageErr(fmt.Sprintf("get portfolio %d", id), err)
	}
	return p, nil
}

// ListByCustomer returns a customer's portfolios ordered by id.
func (s *PortfolioStore) ListByCustomer(ctx context.Context, tx domain.Tx, customerID int64) ([]domain.Portfolio, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+portfolioSelectCols+` FROM portfolios WHERE customer_id = $1 ORDER BY id`, customerID)
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

// UpdateBalance overwrites the cash balance.
func (s *PortfolioStore) UpdateBalance(ctx context.Context, tx domain.Tx, id int64, balance decimal.Decimal) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx,
		`UPDATE portfolios SET balance = $1, updated_at = NOW() WHERE id = $2`, balance, id)
	if err != nil {
		return storageErr(fmt.Sprintf("update portfolio %d balance", id), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.PortfolioStore = (*PortfolioStore)(nil)
