package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/everest/internal/domain"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var errForeignTx = errors.New("sqlite: transaction was not opened by this store")

func conn(db *sql.DB, tx domain.Tx) (querier, error) {
	if tx == nil {
		return db, nil
	}
	t, ok := tx.(*Tx)
	if !ok {
		return nil, errForeignTx
	}
	return t.tx, nil
}

func storageErr(op string, err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrConflict, err)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrAlreadyExists, err)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrInsufficientFunds, err)
		}
	}
	return fmt.Errorf("sqlite: %s: %w: %w", op, domain.ErrStorage, err)
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
