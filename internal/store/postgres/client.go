// Package postgres implements the ledger stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

const applicationName = "everest"

// ClientConfig holds pool settings. DSN is a postgres:// URL or a
// key=value connection string.
type ClientConfig struct {
	DSN              string
	MaxConns         int
	MinConns         int
	StatementTimeout time.Duration
}

// Client owns the connection pool behind every ledger store.
type Client struct {
	pool *pgxpool.Pool
}

// New connects a pool and pings it once before returning.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping %s: %w", poolCfg.ConnConfig.Host, err)
	}
	return &Client{pool: pool}, nil
}

func poolConfig(cfg ClientConfig) (*pgxpool.Config, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = min(int32(cfg.MinConns), pc.MaxConns)
	}

	params := pc.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = applicationName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Client) Close() {
	c.pool.Close()
}

// Begin opens a read-committed transaction. Row locks taken through the
// stores' GetForUpdate methods serialize writers on the same account.
func (c *Client) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	return tx, nil
}

// Ledger returns every store backed by this client.
func (c *Client) Ledger() domain.Ledger {
	return domain.Ledger{
		Tx:         c,
		Orders:     NewOrderStore(c.pool),
		Portfolios: NewPortfolioStore(c.pool),
		Accounts:   NewBankAccountStore(c.pool),
		Holdings:   NewHoldingStore(c.pool),
		Products:   NewProductStore(c.pool),
		Customers:  NewCustomerStore(c.pool),
		Audit:      NewAuditStore(c.pool),
	}
}

var _ domain.TxBeginner = (*Client)(nil)
