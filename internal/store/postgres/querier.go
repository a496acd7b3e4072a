package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var errForeignTx = errors.New("postgres: transaction was not opened by this store")

// conn picks the transaction when one is given, the pool otherwise.
func conn(pool *pgxpool.Pool, tx domain.Tx) (querier, error) {
	if tx == nil {
		return pool, nil
	}
	pgTx, ok := tx.(pgx.Tx)
	if !ok {
		return nil, errForeignTx
	}
	return pgTx, nil
}

// SQLSTATE codes that a retry can resolve.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// storageErr classifies a driver error so callers can match it with errors.Is.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrConflict, err)
		case codeUniqueViolation:
			return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrAlreadyExists, err)
		case codeCheckViolation:
			return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrInsufficientFunds, err)
		}
	}
	return fmt.Errorf("postgres: %s: %w: %w", op, domain.ErrStorage, err)
}

// conds collects WHERE conditions written against named arguments.
type conds struct {
	where []string
	args  pgx.NamedArgs
}

func newConds() *conds {
	return &conds{args: pgx.NamedArgs{}}
}

// add appends cond, binding name to v when name is non-empty.
func (c *conds) add(cond, name string, v any) {
	c.where = append(c.where, cond)
	if name != "" {
		c.args[name] = v
	}
}

// window adds created_at bounds and returns the LIMIT/OFFSET suffix.
func (c *conds) window(o domain.ListOpts) string {
	if o.Since != nil {
		c.add("created_at >= @since", "since", *o.Since)
	}
	if o.Until != nil {
		c.add("created_at <= @until", "until", *o.Until)
	}
	if o.Limit <= 0 {
		return ""
	}
	c.args["limit"], c.args["offset"] = o.Limit, max(o.Offset, 0)
	return " LIMIT @limit OFFSET @offset"
}

func (c *conds) sql() string {
	if len(c.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.where, " AND ")
}
