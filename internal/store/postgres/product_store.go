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

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore creates a new ProductStore backed by the given pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

const productSelectCols = `id, symbol, type, unit_price, issuance_at, expiration_at, created_at`

func scanProduct(scanner interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var p domain.Product
	err := scanner.Scan(&p.ID, &p.Symbol, &p.Type, &p.UnitPrice, &p.IssuanceAt, &p.ExpirationAt, &p.CreatedAt)
	return p, err
}

// Create inserts a product and returns its id.
func (s *ProductStore) Create(ctx context.Context, p domain.Product) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (symbol, type, unit_price, issuance_at, expiration_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.Symbol, p.Type, p.UnitPrice, p.IssuanceAt, p.ExpirationAt,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create product "+p.Symbol, err)
	}
	return id, nil
}

// GetByID retrieves a single product.
func (s *ProductStore) GetByID(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx,
		`SELECT `+productSelectCols+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, storageErr(fmt.Sprintf("get product %d", id), err)
	}
	return p, nil
}

// UpdatePrice sets a new unit price. Existing orders keep their snapshot.
func (s *ProductStore) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products SET unit_price = $1 WHERE id = $2`, price, id)
	if err != nil {
		return storageErr(fmt.Sprintf("update product %d price", id), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns products ordered by symbol.
func (s *ProductStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	query := `SELECT ` + productSelectCols + ` FROM products ORDER BY symbol`
	var args []any
	argIdx := 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list products", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr("scan product", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list products rows", err)
	}
	return out, nil
}

var _ domain.ProductStore = (*ProductStore)(nil)
