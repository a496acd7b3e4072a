// Package sqlite implements the ledger stores on SQLite for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/everest/internal/domain"
)

// DB wraps a SQLite handle. Every transaction is opened with BEGIN IMMEDIATE
// so writers serialize on the database lock instead of row locks.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping checks the database file is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Begin opens an immediate transaction.
func (d *DB) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	return &Tx{tx: tx}, nil
}

// Ledger returns every store backed by this database.
func (d *DB) Ledger() domain.Ledger {
	return domain.Ledger{
		Tx:         d,
		Orders:     &OrderStore{db: d.db},
		Portfolios: &PortfolioStore{db: d.db},
		Accounts:   &BankAccountStore{db: d.db},
		Holdings:   &HoldingStore{db: d.db},
		Products:   &ProductStore{db: d.db},
		Customers:  &CustomerStore{db: d.db},
		Audit:      &AuditStore{db: d.db},
	}
}

// Tx adapts *sql.Tx to domain.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return storageErr("rollback", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so that string comparison
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func fmtDate(t time.Time) string {
	return domain.DateOf(t).Format(domain.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(domain.DateLayout, s)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtDate(*t), Valid: true}
}

func parseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nowText() string {
	return fmtTime(time.Now())
}

var _ domain.TxBeginner = (*DB)(nil)
