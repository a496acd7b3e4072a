package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, portfolio_id, product_id, direction, quotes,
	unit_price, net_value, liquidate_at, created_at, executed_at`

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		o   domain.Order
		dir string
	)
	err := row.Scan(
		&o.ID, &o.PortfolioID, &o.ProductID, &dir, &o.Quotes,
		&o.UnitPrice, &o.NetValue, &o.LiquidateAt, &o.CreatedAt, &o.ExecutedAt,
	)
	o.Direction = domain.Direction(dir)
	o.LiquidateAt = domain.DateOf(o.LiquidateAt)
	return o, err
}

// selectOrders runs an orders query and collects every row.
func selectOrders(ctx context.Context, q querier, op, where string, args pgx.NamedArgs) ([]domain.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders`+where, args)
	if err != nil {
		return nil, storageErr(op, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return orders, nil
}

// Create inserts o and returns the id assigned by the orders sequence.
func (s *OrderStore) Create(ctx context.Context, tx domain.Tx, o domain.Order) (int64, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return 0, err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO orders (portfolio_id, product_id, direction, quotes,
		                    unit_price, net_value, liquidate_at, created_at)
		VALUES (@portfolio, @product, @direction, @quotes,
		        @unit_price, @net_value, @liquidate_at, @created_at)
		RETURNING id`,
		pgx.NamedArgs{
			"portfolio":    o.PortfolioID,
			"product":      o.ProductID,
			"direction":    string(o.Direction),
			"quotes":       o.Quotes,
			"unit_price":   o.UnitPrice,
			"net_value":    o.NetValue,
			"liquidate_at": o.LiquidateAt,
			"created_at":   o.CreatedAt,
		},
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create order", err)
	}
	return id, nil
}

func (s *OrderStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Order, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return domain.Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return domain.Order{}, storageErr(fmt.Sprintf("get order %d", id), err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Order{}, domain.ErrNotFound
	case err != nil:
		return domain.Order{}, storageErr(fmt.Sprintf("get order %d", id), err)
	}
	return o, nil
}

// List returns orders matching f, newest first.
func (s *OrderStore) List(ctx context.Context, tx domain.Tx, f domain.OrderFilter) ([]domain.Order, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return nil, err
	}

	c := newConds()
	if f.PortfolioID != 0 {
		c.add("portfolio_id = @portfolio", "portfolio", f.PortfolioID)
	}
	if f.ProductID != 0 {
		c.add("product_id = @product", "product", f.ProductID)
	}
	switch f.Status {
	case domain.OrderStatusPending:
		c.add("executed_at IS NULL", "", nil)
	case domain.OrderStatusExecuted:
		c.add("executed_at IS NOT NULL", "", nil)
	}
	page := c.window(f.ListOpts)

	return selectOrders(ctx, q, "list orders", c.sql()+" ORDER BY id DESC"+page, c.args)
}

// ListExecutable returns pending orders due on or before asOf, oldest first.
func (s *OrderStore) ListExecutable(ctx context.Context, tx domain.Tx, asOf time.Time) ([]domain.Order, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return nil, err
	}
	return selectOrders(ctx, q, "list executable orders",
		` WHERE executed_at IS NULL AND liquidate_at <= @as_of::date ORDER BY id`,
		pgx.NamedArgs{"as_of": domain.DateOf(asOf).Format(domain.DateLayout)})
}

// ListExecutedBefore returns orders settled strictly before the cutoff.
func (s *OrderStore) ListExecutedBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return selectOrders(ctx, s.pool, "list executed orders",
		` WHERE executed_at IS NOT NULL AND executed_at < @before ORDER BY id`,
		pgx.NamedArgs{"before": before})
}

// sumQuotes evaluates expr over one portfolio/product pair's orders.
func (s *OrderStore) sumQuotes(ctx context.Context, tx domain.Tx, op, expr, cond string, portfolioID, productID int64) (int, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.QueryRow(ctx,
		`SELECT COALESCE(SUM(`+expr+`), 0) FROM orders
		 WHERE portfolio_id = @portfolio AND product_id = @product AND `+cond,
		pgx.NamedArgs{"portfolio": portfolioID, "product": productID},
	).Scan(&n)
	if err != nil {
		return 0, storageErr(op, err)
	}
	return int(n), nil
}

// QuotesAvailable is executed buys minus executed sells.
func (s *OrderStore) QuotesAvailable(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	return s.sumQuotes(ctx, tx, "quotes available",
		`CASE WHEN direction = 'buy' THEN quotes ELSE -quotes END`,
		`executed_at IS NOT NULL`, portfolioID, productID)
}

// QuotesReserved is the total of sell orders not yet executed.
func (s *OrderStore) QuotesReserved(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error) {
	return s.sumQuotes(ctx, tx, "quotes reserved", `quotes`,
		`direction = 'sell' AND executed_at IS NULL`, portfolioID, productID)
}

// MarkExecuted stamps executed_at only while it is still NULL. A concurrent
// settler blocks on the row lock and then sees zero affected rows.
func (s *OrderStore) MarkExecuted(ctx context.Context, tx domain.Tx, id int64, at time.Time) error {
	return s.pendingOnly(ctx, tx, id, fmt.Sprintf("mark order %d executed", id),
		`UPDATE orders SET executed_at = @at WHERE id = @id AND executed_at IS NULL`,
		pgx.NamedArgs{"id": id, "at": at})
}

// Delete removes a pending order.
func (s *OrderStore) Delete(ctx context.Context, tx domain.Tx, id int64) error {
	return s.pendingOnly(ctx, tx, id, fmt.Sprintf("delete order %d", id),
		`DELETE FROM orders WHERE id = @id AND executed_at IS NULL`,
		pgx.NamedArgs{"id": id})
}

// pendingOnly runs a statement guarded by executed_at IS NULL and tells a
// missing order apart from one that already executed.
func (s *OrderStore) pendingOnly(ctx context.Context, tx domain.Tx, id int64, op, stmt string, args pgx.NamedArgs) error {
	q, err := conn(s.pool, tx)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, stmt, args)
	if err != nil {
		return storageErr(op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, tx, id); err != nil {
		return err
	}
	return domain.ErrAlreadyExecuted
}

var _ domain.OrderStore = (*OrderStore)(nil)
