package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/pkg/retry"
	"github.com/alanyoungcy/everest/internal/telemetry"
)

// ProductLookup quotes products for new orders.
type ProductLookup interface {
	GetByID(ctx context.Context, id int64) (domain.Product, error)
}

// OrderRequest asks the engine to buy or sell quotes of a product.
type OrderRequest struct {
	Quotes      int
	LiquidateAt time.Time
	ProductID   int64
	PortfolioID int64
}

const (
	batchLockKey        = "lock:settlement:execute-due"
	defaultBatchLockTTL = 5 * time.Minute
)

// Engine settles orders and cash transfers. Each public operation is one
// unit of work against the ledger store; side effects on the event bus, the
// audit log and metrics happen only after that unit commits.
type Engine struct {
	beginner   domain.TxBeginner
	orders     *OrderService
	portfolios *PortfolioService
	bank       *BankService
	holdings   *HoldingService
	products   ProductLookup

	bus     domain.EventBus
	locker  domain.LockManager
	lockTTL time.Duration
	audit   domain.AuditStore
	metrics *telemetry.Metrics

	retry  retry.Config
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// NewEngine creates an Engine over the leaf services.
func NewEngine(
	beginner domain.TxBeginner,
	orders *OrderService,
	portfolios *PortfolioService,
	bank *BankService,
	holdings *HoldingService,
	products ProductLookup,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		beginner:   beginner,
		orders:     orders,
		portfolios: portfolios,
		bank:       bank,
		holdings:   holdings,
		products:   products,
		lockTTL:    defaultBatchLockTTL,
		retry:      retry.DefaultConfig(),
		now:        time.Now,
		loc:        time.UTC,
		logger:     logger,
	}
}

// WithBus publishes settlement events after each commit.
func (e *Engine) WithBus(bus domain.EventBus) *Engine {
	e.bus = bus
	return e
}

// WithLocker makes ExecuteDueOrders hold a distributed lock for its run.
func (e *Engine) WithLocker(locker domain.LockManager, ttl time.Duration) *Engine {
	e.locker = locker
	if ttl > 0 {
		e.lockTTL = ttl
	}
	return e
}

func (e *Engine) WithAudit(audit domain.AuditStore) *Engine {
	e.audit = audit
	return e
}

func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithClock overrides the time source and the zone that defines "today".
func (e *Engine) WithClock(now func() time.Time, loc *time.Location) *Engine {
	if now != nil {
		e.now = now
	}
	if loc != nil {
		e.loc = loc
	}
	return e
}

// WithRetry sets the backoff used when a unit of work hits a conflict.
func (e *Engine) WithRetry(cfg retry.Config) *Engine {
	e.retry = cfg
	return e
}

// Today is the current calendar date in the engine's zone.
func (e *Engine) Today() time.Time {
	return domain.DateOf(e.now().In(e.loc))
}

func (e *Engine) inTx(ctx context.Context, op string, fn func(tx domain.Tx) error) error {
	return unitOfWork(ctx, e.beginner, e.retry, e.logger, op, fn)
}

// Invest creates a buy order at the product's current price. The portfolio
// must cover the net value; otherwise nothing is persisted. An order due
// today or earlier settles in the same transaction.
func (e *Engine) Invest(ctx context.Context, req OrderRequest) (domain.Order, error) {
	order, err := e.quote(ctx, domain.DirectionBuy, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: invest: %w", err)
	}
	today := e.Today()

	var placed domain.Order
	err = e.inTx(ctx, "invest", func(tx domain.Tx) error {
		placed = order

		p, err := e.portfolios.Lock(ctx, tx, req.PortfolioID)
		if err != nil {
			return err
		}
		if p.Balance.LessThan(placed.NetValue) {
			return fmt.Errorf("portfolio %d balance %s below %s: %w",
				p.ID, p.Balance, placed.NetValue, domain.ErrInsufficientFunds)
		}

		if placed.ID, err = e.orders.Create(ctx, tx, placed); err != nil {
			return err
		}
		if placed.DueOn(today) {
			return e.settleBuy(ctx, tx, &placed)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: invest: %w", err)
	}

	e.orderCommitted(ctx, placed)
	return placed, nil
}

// WithdrawProduct creates a sell order. The requested quotes must be covered
// by settled quotes not already promised to other pending sells.
func (e *Engine) WithdrawProduct(ctx context.Context, req OrderRequest) (domain.Order, error) {
	order, err := e.quote(ctx, domain.DirectionSell, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: withdraw product: %w", err)
	}
	today := e.Today()

	var placed domain.Order
	err = e.inTx(ctx, "withdraw product", func(tx domain.Tx) error {
		placed = order

		// The portfolio row lock serializes concurrent sells of the same
		// portfolio between the availability check and the insert.
		if _, err := e.portfolios.Lock(ctx, tx, req.PortfolioID); err != nil {
			return err
		}
		sellable, err := e.orders.QuotesSellable(ctx, tx, req.PortfolioID, req.ProductID)
		if err != nil {
			return err
		}
		if placed.Quotes > sellable {
			return fmt.Errorf("requested %d quotes, %d sellable: %w",
				placed.Quotes, max(sellable, 0), domain.ErrOverAllocation)
		}

		if placed.ID, err = e.orders.Create(ctx, tx, placed); err != nil {
			return err
		}
		if placed.DueOn(today) {
			return e.settleSell(ctx, tx, &placed)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: withdraw product: %w", err)
	}

	e.orderCommitted(ctx, placed)
	return placed, nil
}

func (e *Engine) quote(ctx context.Context, dir domain.Direction, req OrderRequest) (domain.Order, error) {
	if req.Quotes <= 0 {
		return domain.Order{}, fmt.Errorf("quotes %d: %w", req.Quotes, domain.ErrInvalidOrder)
	}
	if req.LiquidateAt.IsZero() {
		req.LiquidateAt = e.now().In(e.loc)
	}
	product, err := e.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.NewOrder(dir, req.Quotes, product.UnitPrice, req.LiquidateAt, product.ID, req.PortfolioID)
	if err := order.Validate(); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ExecuteBuyOrder settles a pending buy in its own transaction: it debits the
// portfolio and opens the holding if this is the first exposure.
func (e *Engine) ExecuteBuyOrder(ctx context.Context, order domain.Order) error {
	return e.execute(ctx, domain.DirectionBuy, order.ID)
}

// ExecuteSellOrder settles a pending sell in its own transaction: it credits
// the portfolio and closes the holding once no quotes remain.
func (e *Engine) ExecuteSellOrder(ctx context.Context, order domain.Order) error {
	return e.execute(ctx, domain.DirectionSell, order.ID)
}

// ExecuteOrder settles a pending order by id, dispatching on its direction.
func (e *Engine) ExecuteOrder(ctx context.Context, id int64) (domain.Order, error) {
	o, err := e.orders.GetByID(ctx, nil, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: execute order: %w", err)
	}
	if err := e.execute(ctx, o.Direction, id); err != nil {
		return domain.Order{}, err
	}
	return e.orders.GetByID(ctx, nil, id)
}

func (e *Engine) execute(ctx context.Context, dir domain.Direction, id int64) error {
	var settled domain.Order
	err := e.inTx(ctx, "execute "+string(dir), func(tx domain.Tx) error {
		// Values are re-read inside the transaction so a stale caller copy
		// can never settle a different amount than was frozen at creation.
		o, err := e.orders.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if o.Direction != dir {
			return fmt.Errorf("order %d is a %s order: %w", id, o.Direction, domain.ErrInvalidOrder)
		}
		if o.Executed() {
			return fmt.Errorf("order %d: %w", id, domain.ErrAlreadyExecuted)
		}
		if !o.DueOn(e.Today()) {
			return fmt.Errorf("order %d due %s: %w",
				id, o.LiquidateAt.Format(domain.DateLayout), domain.ErrNotDue)
		}

		if dir == domain.DirectionBuy {
			err = e.settleBuy(ctx, tx, &o)
		} else {
			err = e.settleSell(ctx, tx, &o)
		}
		settled = o
		return err
	})
	if err != nil {
		return fmt.Errorf("engine: execute %s order %d: %w", dir, id, err)
	}

	e.orderSettled(ctx, settled)
	return nil
}

// settleBuy claims the order, debits the portfolio and opens the holding.
func (e *Engine) settleBuy(ctx context.Context, tx domain.Tx, o *domain.Order) error {
	at := e.now().UTC()
	if err := e.orders.MarkExecuted(ctx, tx, o.ID, at); err != nil {
		return err
	}
	if err := e.portfolios.ExecuteBuy(ctx, tx, o.PortfolioID, o.NetValue); err != nil {
		return err
	}
	exists, err := e.holdings.Exists(ctx, tx, o.PortfolioID, o.ProductID)
	if err != nil {
		return err
	}
	if !exists {
		if err := e.holdings.Create(ctx, tx, o.PortfolioID, o.ProductID); err != nil {
			return err
		}
	}
	o.ExecutedAt = &at
	return nil
}

// settleSell claims the order, credits the portfolio and disposes the
// holding when the settled position reaches zero.
func (e *Engine) settleSell(ctx context.Context, tx domain.Tx, o *domain.Order) error {
	at := e.now().UTC()
	if err := e.orders.MarkExecuted(ctx, tx, o.ID, at); err != nil {
		return err
	}
	if err := e.portfolios.ExecuteSell(ctx, tx, o.PortfolioID, o.NetValue); err != nil {
		return err
	}

	remaining, err := e.orders.QuotesAvailable(ctx, tx, o.PortfolioID, o.ProductID)
	if err != nil {
		return err
	}
	if remaining < 0 {
		return fmt.Errorf("order %d would leave %d quotes: %w", o.ID, remaining, domain.ErrOverAllocation)
	}
	if remaining == 0 {
		exists, err := e.holdings.Exists(ctx, tx, o.PortfolioID, o.ProductID)
		if err != nil {
			return err
		}
		if exists {
			if err := e.holdings.Dispose(ctx, tx, o.PortfolioID, o.ProductID); err != nil {
				return err
			}
		}
	}
	o.ExecutedAt = &at
	return nil
}

// ExecuteDueOrders settles every pending order due today or earlier. Each
// order is its own unit of work; failures are collected in the report and
// do not stop the run. Orders settled concurrently by someone else are
// counted as skipped. The returned error is non-nil only when the run could
// not start.
func (e *Engine) ExecuteDueOrders(ctx context.Context) (BatchReport, error) {
	started := e.now()
	report := newBatchReport(started, e.Today())

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, batchLockKey, e.lockTTL)
		if err != nil {
			return report, fmt.Errorf("engine: execute due orders: %w", err)
		}
		defer release()
	}

	due, err := e.orders.ListExecutable(ctx, nil, report.AsOf)
	if err != nil {
		return report, fmt.Errorf("engine: execute due orders: %w", err)
	}
	report.Due = len(due)

	for _, o := range due {
		if ctx.Err() != nil {
			report.Failures[o.ID] = ctx.Err()
			continue
		}

		err := e.execute(ctx, o.Direction, o.ID)
		switch {
		case err == nil:
			report.Executed++
		case errors.Is(err, domain.ErrAlreadyExecuted):
			report.Skipped++
		default:
			report.Failures[o.ID] = err
			e.logger.WarnContext(ctx, "engine: order settlement failed",
				slog.String("run_id", report.RunID),
				slog.Int64("order_id", o.ID),
				slog.String("direction", string(o.Direction)),
				slog.String("error", err.Error()),
			)
		}
	}
	report.Duration = e.now().Sub(started)

	e.batchCompleted(ctx, report)
	return report, nil
}

// Deposit moves amount from the customer's bank account into the portfolio.
func (e *Engine) Deposit(ctx context.Context, amount decimal.Decimal, customerID, portfolioID int64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("engine: deposit %s: %w", amount, domain.ErrInvalidAmount)
	}

	err := e.inTx(ctx, "deposit", func(tx domain.Tx) error {
		if err := e.checkOwner(ctx, tx, customerID, portfolioID); err != nil {
			return err
		}
		if err := e.bank.Withdraw(ctx, tx, customerID, amount); err != nil {
			return err
		}
		return e.portfolios.Deposit(ctx, tx, portfolioID, amount)
	})
	if err != nil {
		return fmt.Errorf("engine: deposit: %w", err)
	}

	e.transferCommitted(ctx, "deposit", amount, customerID, portfolioID)
	return nil
}

// Withdraw moves amount from the portfolio back to the customer's bank
// account.
func (e *Engine) Withdraw(ctx context.Context, amount decimal.Decimal, customerID, portfolioID int64) error {
	if !amount.IsPositive() {
		return fmt.Errorf("engine: withdraw %s: %w", amount, domain.ErrInvalidAmount)
	}

	err := e.inTx(ctx, "withdraw", func(tx domain.Tx) error {
		if err := e.checkOwner(ctx, tx, customerID, portfolioID); err != nil {
			return err
		}
		// Lock order is bank then portfolio, same as Deposit.
		if _, err := e.bank.Lock(ctx, tx, customerID); err != nil {
			return err
		}
		if err := e.portfolios.Withdraw(ctx, tx, portfolioID, amount); err != nil {
			return err
		}
		return e.bank.Deposit(ctx, tx, customerID, amount)
	})
	if err != nil {
		return fmt.Errorf("engine: withdraw: %w", err)
	}

	e.transferCommitted(ctx, "withdraw", amount, customerID, portfolioID)
	return nil
}

func (e *Engine) checkOwner(ctx context.Context, tx domain.Tx, customerID, portfolioID int64) error {
	p, err := e.portfolios.Get(ctx, tx, portfolioID)
	if err != nil {
		return err
	}
	if p.CustomerID != customerID {
		return fmt.Errorf("portfolio %d of customer %d: %w", portfolioID, customerID, domain.ErrNotFound)
	}
	return nil
}

// Balances returns the bank and portfolio balances read in one transaction.
func (e *Engine) Balances(ctx context.Context, customerID, portfolioID int64) (bank, portfolio decimal.Decimal, err error) {
	err = withTx(ctx, e.beginner, e.logger, func(tx domain.Tx) error {
		if err := e.checkOwner(ctx, tx, customerID, portfolioID); err != nil {
			return err
		}
		if bank, err = e.bank.GetBalance(ctx, tx, customerID); err != nil {
			return err
		}
		portfolio, err = e.portfolios.GetBalance(ctx, tx, portfolioID)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("engine: balances: %w", err)
	}
	return bank, portfolio, nil
}
