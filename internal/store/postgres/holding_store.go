package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

// HoldingStore implements domain.HoldingStore on the portfolio_products table.
type HoldingStore struct {
	pool *pgxpool.Pool
}

// NewHoldingStore creates a new HoldingStore backed by the given pool.
func NewHoldingStore(pool *pgxpool.Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

// Exists reports whether the portfolio holds the product.
func (s *HoldingStore) Exists(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (bool, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM portfolio_products WHERE portfolio_id = $1 AND product_id = $2)`,
		portfolioID, productID,
	).Scan(&exists)
	if err != nil {
		return false, storageErr("holding exists", err)
	}
	return exists, nil
}

// Create inserts the relation. A duplicate fails with ErrAlreadyExists.
func (s *HoldingStore) Create(ctx context.Context, tx domain.Tx, h domain.Holding) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}

	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = q.Exec(ctx,
		`INSERT INTO portfolio_products (portfolio_id, product_id, created_at) VALUES ($1, $2, $3)`,
		h.PortfolioID, h.ProductID, createdAt)
	if err != nil {
		return storageErr(fmt.Sprintf("create holding %d/%d", h.PortfolioID, h.ProductID), err)
	}
	return nil
}

// Delete removes the relation, or returns ErrNotFound.
func (s *HoldingStore) Delete(ctx context.Context, tx domain.Tx, portfolioID, productID int64) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx,
		`DELETE FROM portfolio_products WHERE portfolio_id = $1 AND product_id = $2`,
		portfolioID, productID)
	if err != nil {
		return storageErr(fmt.Sprintf("delete holding %d/%d", portfolioID, productID), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByPortfolio returns the products a portfolio holds.
func (s *HoldingStore) ListByPortfolio(ctx context.Context, tx domain.Tx, portfolioID int64) ([]domain.Holding, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT portfolio_id, product_id, created_at FROM portfolio_products
		 WHERE portfolio_id = $1 ORDER BY product_id`, portfolioID)
	if err != nil {
		return nil, storageErr("list holdings", err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.PortfolioID, &h.ProductID, &h.CreatedAt); err != nil {
			return nil, storageErr("scan holding", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list holdings rows", err)
	}
	return out, nil
}

var _ domain.HoldingStore = (*HoldingStore)(nil)
