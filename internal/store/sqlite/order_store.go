package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
)

// OrderStore implements domain.OrderStore on SQLite.
type OrderStore struct {
	db *sql.DB
}

const orderSelectCols = `id, portfolio_id, product_id, direction, quotes,
	unit_price, net_value, liquidate_at, created_at, executed_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                      domain.Order
		direction              string
		liquidateAt, createdAt string
		executedAt             sql.NullString
	)
	err := scanner.Scan(
		&o.ID, &o.PortfolioID, &o.ProductID, &direction, &o.Quotes,
		&o.UnitPrice, &o.NetValue, &liquidateAt, &createdAt, &executedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Direction = domain.Direction(direction)
	if o.LiquidateAt, err = parseDate(liquidateAt); err != nil {
		return domain.Order{}, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Order{}, err
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return domain.Order{}, err
		}
		o.ExecutedAt = &t
	}
	return o, nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *OrderStore) Create(ctx context.Context, tx domain.Tx, o domain.Order) (int64, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return 0, err
	}

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO orders (
			portfolio_id, product_id, direction, quotes,
			unit_price, net_value, liquidate_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.PortfolioID, o.ProductID, string(o.Direction), o.Quotes,
		o.UnitPrice, o.NetValue, fmtDate(o.LiquidateAt), fmtTime(createdAt),
	)
	if err != nil {
		return 0, storageErr("create order", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create order id", err)
	}
	return id, nil
}

func (s *OrderStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Order, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return domain.Order{}, err
	}

	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, storageErr(fmt.Sprintf("get order %d", id), err)
	}
	return o, nil
}

func (s *OrderStore) List(ctx context.Context, tx domain.Tx, f domain.OrderFilter) ([]domain.Order, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.PortfolioID != 0 {
		where = append(where, "portfolio_id = ?")
		args = append(args, f.PortfolioID)
	}
	if f.ProductID != 0 {
		where = append(where, "product_id = ?")
		args = append(args, f.ProductID)
	}
	switch f.Status {
	case domain.OrderStatusPending:
		where = append(where, "executed_at IS NULL")
	case domain.OrderStatusExecuted:
		where = append(where, "executed_at IS NOT NULL")
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, fmtTime(*f.Until))
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, storageErr("scan orders", err)
	}
	return orders, nil
}

func (s *OrderStore) ListExecutable(ctx context.Context, tx domain.Tx, asOf time.Time) ([]domain.Order, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE executed_at IS NULL AND liquidate_at <= ?
		 ORDER BY id`, fmtDate(asOf))
	if err != nil {
		return nil, storageErr("list executable orders", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, storageErr("scan executable orders", err)
	}
	return orders, nil
}

func (s *OrderStore) QuotesAvailable(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return 0, err
	}

	var n int64
	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'buy' THEN quotes ELSE -quotes END), 0)
		FROM orders
		WHERE portfolio_id = ? AND product_id = ? AND executed_at IS NOT NULL`,
		portfolioID, productID,
	).Scan(&n)
	if err != nil {
		return 0, storageErr("quotes available", err)
	}
	return int(n), nil
}

func (s *OrderStore) QuotesReserved(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	q, err := conn(s.db, tx)
	if err != nil {
		return 0, err
	}

	var n int64
	err = q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quotes), 0)
		FROM orders
		WHERE portfolio_id = ? AND product_id = ?
		  AND direction = 'sell' AND executed_at IS NULL`,
		portfolioID, productID,
	).Scan(&n)
	if err != nil {
		return 0, storageErr("quotes reserved", err)
	}
	return int(n), nil
}

func (s *OrderStore) MarkExecuted(ctx context.Context, tx domain.Tx, id int64, at time.Time) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx,
		`UPDATE orders SET executed_at = ? WHERE id = ? AND executed_at IS NULL`, fmtTime(at), id)
	if err != nil {
		return storageErr(fmt.Sprintf("mark order %d executed", id), err)
	}
	if rowsAffected(res) == 0 {
		if _, err := s.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyExecuted
	}
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, tx domain.Tx, id int64) error {
	q, err := conn(s.db, tx)
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND executed_at IS NULL`, id)
	if err != nil {
		return storageErr(fmt.Sprintf("delete order %d", id), err)
	}
	if rowsAffected(res) == 0 {
		if _, err := s.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrAlreadyExecuted
	}
	return nil
}

func (s *OrderStore) ListExecutedBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE executed_at IS NOT NULL AND executed_at < ?
		 ORDER BY id`, fmtTime(before))
	if err != nil {
		return nil, storageErr("list executed orders", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, storageErr("scan executed orders", err)
	}
	return orders, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
