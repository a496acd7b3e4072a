package sqlite

// Schema mirrors the PostgreSQL migrations. Decimals are TEXT, dates are
// 'YYYY-MM-DD' and timestamps are fixed-width UTC text.
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    full_name  TEXT NOT NULL,
    email      TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bank_accounts (
    customer_id INTEGER PRIMARY KEY REFERENCES customers(id) ON DELETE CASCADE,
    balance     TEXT NOT NULL DEFAULT '0' CHECK (CAST(balance AS REAL) >= 0),
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolios (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
    name        TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    balance     TEXT NOT NULL DEFAULT '0' CHECK (CAST(balance AS REAL) >= 0),
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_portfolios_customer ON portfolios (customer_id);

CREATE TABLE IF NOT EXISTS products (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol        TEXT NOT NULL UNIQUE,
    type          TEXT NOT NULL DEFAULT '',
    unit_price    TEXT NOT NULL CHECK (CAST(unit_price AS REAL) > 0),
    issuance_at   TEXT,
    expiration_at TEXT,
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    portfolio_id INTEGER NOT NULL REFERENCES portfolios(id),
    product_id   INTEGER NOT NULL REFERENCES products(id),
    direction    TEXT    NOT NULL CHECK (direction IN ('buy', 'sell')),
    quotes       INTEGER NOT NULL CHECK (quotes > 0),
    unit_price   TEXT    NOT NULL,
    net_value    TEXT    NOT NULL,
    liquidate_at TEXT    NOT NULL,
    created_at   TEXT    NOT NULL,
    executed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_pending_due ON orders (liquidate_at) WHERE executed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_orders_portfolio_product ON orders (portfolio_id, product_id);

CREATE TABLE IF NOT EXISTS portfolio_products (
    portfolio_id INTEGER NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    product_id   INTEGER NOT NULL REFERENCES products(id),
    created_at   TEXT    NOT NULL,
    PRIMARY KEY (portfolio_id, product_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT,
    created_at TEXT NOT NULL
);
`
