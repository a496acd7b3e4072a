package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
)

// ProductStore implements domain.ProductStore on SQLite.
type ProductStore struct {
	db *sql.DB
}

const productSelectCols = `id, symbol, type, unit_price, issuance_at, expiration_at, created_at`

func scanProduct(scanner interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var (
		p                domain.Product
		issuance, expiry sql.NullString
		createdAt        string
	)
	if err := scanner.Scan(&p.ID, &p.Symbol, &p.Type, &p.UnitPrice, &issuance, &expiry, &createdAt); err != nil {
		return domain.Product{}, err
	}
	var err error
	if p.IssuanceAt, err = parseNullDate(issuance); err != nil {
		return domain.Product{}, err
	}
	if p.ExpirationAt, err = parseNullDate(expiry); err != nil {
		return domain.Product{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *ProductStore) Create(ctx context.Context, p domain.Product) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (symbol, type, unit_price, issuance_at, expiration_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Type, p.UnitPrice, nullDate(p.IssuanceAt), nullDate(p.ExpirationAt), nowText())
	if err != nil {
		return 0, storageErr("create product "+p.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create product id", err)
	}
	return id, nil
}

func (s *ProductStore) GetByID(ctx context.Context, id int64) (domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productSelectCols+` FROM products WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, storageErr(fmt.Sprintf("get product %d", id), err)
	}
	return p, nil
}

func (s *ProductStore) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET unit_price = ? WHERE id = ?`, price, id)
	if err != nil {
		return storageErr(fmt.Sprintf("update product %d price", id), err)
	}
	if rowsAffected(res) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *ProductStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	query := `SELECT ` + productSelectCols + ` FROM products ORDER BY symbol`
	var args []any
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
