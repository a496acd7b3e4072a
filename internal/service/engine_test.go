package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/pkg/retry"
	"github.com/alanyoungcy/everest/internal/store/sqlite"
)

var testDay = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
	stream int
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	if channel != domain.ChannelSettlements {
		return errors.New("unexpected channel " + channel)
	}
	var evt domain.SettlementEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream++
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Event)
	}
	return out
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	ledger  domain.Ledger
	engine  *Engine
	clock   *fakeClock
	bus     *recordingBus
	orders  *OrderService
	prods   *ProductService
	holding *HoldingService

	customerID  int64
	portfolioID int64
	productID   int64
}

func newHarness(t *testing.T, bankBalance, portfolioBalance, unitPrice string) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := db.Ledger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	custID, err := l.Customers.Create(ctx, nil, domain.Customer{FullName: "Ada Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	require.NoError(t, l.Accounts.Create(ctx, nil, domain.BankAccount{CustomerID: custID, Balance: decimal.RequireFromString(bankBalance)}))
	pfID, err := l.Portfolios.Create(ctx, nil, domain.Portfolio{CustomerID: custID, Name: "main", Balance: decimal.RequireFromString(portfolioBalance)})
	require.NoError(t, err)
	prodID, err := l.Products.Create(ctx, domain.Product{Symbol: "ACME", UnitPrice: decimal.RequireFromString(unitPrice)})
	require.NoError(t, err)

	clock := &fakeClock{now: testDay}
	bus := &recordingBus{}
	orders := NewOrderService(l.Orders, logger)
	holdings := NewHoldingService(l.Holdings)
	products := NewProductService(l.Products, logger)

	engine := NewEngine(
		l.Tx,
		orders,
		NewPortfolioService(l.Portfolios, logger),
		NewBankService(l.Accounts),
		holdings,
		products,
		logger,
	).
		WithBus(bus).
		WithAudit(l.Audit).
		WithClock(clock.Now, time.UTC).
		WithRetry(retry.Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	return &harness{
		t: t, ctx: ctx, ledger: l, engine: engine, clock: clock, bus: bus,
		orders: orders, prods: products, holding: holdings,
		customerID: custID, portfolioID: pfID, productID: prodID,
	}
}

func (h *harness) request(quotes int, liquidateAt time.Time) OrderRequest {
	return OrderRequest{Quotes: quotes, LiquidateAt: liquidateAt, ProductID: h.productID, PortfolioID: h.portfolioID}
}

func (h *harness) portfolioBalance() decimal.Decimal {
	h.t.Helper()
	p, err := h.ledger.Portfolios.GetByID(h.ctx, nil, h.portfolioID)
	require.NoError(h.t, err)
	return p.Balance
}

func (h *harness) bankBalance() decimal.Decimal {
	h.t.Helper()
	a, err := h.ledger.Accounts.GetByCustomer(h.ctx, nil, h.customerID)
	require.NoError(h.t, err)
	return a.Balance
}

func (h *harness) quotesAvailable() int {
	h.t.Helper()
	n, err := h.ledger.Orders.QuotesAvailable(h.ctx, nil, h.portfolioID, h.productID)
	require.NoError(h.t, err)
	return n
}

func (h *harness) holds() bool {
	h.t.Helper()
	ok, err := h.ledger.Holdings.Exists(h.ctx, nil, h.portfolioID, h.productID)
	require.NoError(h.t, err)
	return ok
}

func (h *harness) orderCount() int {
	h.t.Helper()
	all, err := h.ledger.Orders.List(h.ctx, nil, domain.OrderFilter{PortfolioID: h.portfolioID})
	require.NoError(h.t, err)
	return len(all)
}

// assertHoldingInvariant checks that the relation exists iff quotes > 0.
func (h *harness) assertHoldingInvariant() {
	h.t.Helper()
	assert.Equal(h.t, h.quotesAvailable() > 0, h.holds(), "holding must exist iff quotes are available")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestInvestDueTodaySettlesImmediately(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	order, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.NoError(t, err)

	assert.True(t, order.Executed())
	assert.True(t, order.NetValue.Equal(dec("500")))
	assert.True(t, h.portfolioBalance().Equal(dec("500")), "balance %s", h.portfolioBalance())
	assert.True(t, h.holds())
	assert.Equal(t, 5, h.quotesAvailable())
	assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderExecuted}, h.bus.kinds())
}

func TestInvestPastDateSettlesImmediately(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	order, err := h.engine.Invest(h.ctx, h.request(1, testDay.AddDate(0, 0, -3)))
	require.NoError(t, err)
	assert.True(t, order.Executed())
}

func TestInvestInsufficientFundsLeavesNothing(t *testing.T) {
	h := newHarness(t, "0", "499.99", "100")

	_, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Zero(t, h.orderCount(), "failed investment must not leave an order behind")
	assert.True(t, h.portfolioBalance().Equal(dec("499.99")))
	assert.False(t, h.holds())
	assert.Empty(t, h.bus.kinds())
}

func TestInvestRejectsBadInput(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	_, err := h.engine.Invest(h.ctx, h.request(0, testDay))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	req := h.request(1, testDay)
	req.ProductID = 9999
	_, err = h.engine.Invest(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req = h.request(1, testDay)
	req.PortfolioID = 9999
	_, err = h.engine.Invest(h.ctx, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Zero(t, h.orderCount())
}

func TestInvestFutureDatedWaitsForBatch(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	order, err := h.engine.Invest(h.ctx, h.request(2, testDay.AddDate(0, 0, 2)))
	require.NoError(t, err)
	assert.False(t, order.Executed())
	assert.True(t, h.portfolioBalance().Equal(dec("1000")))
	assert.False(t, h.holds())

	report, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	h.clock.AddDays(2)
	report, err = h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Executed)
	assert.NoError(t, report.Err())
	assert.NotEmpty(t, report.RunID)

	assert.True(t, h.portfolioBalance().Equal(dec("800")))
	assert.True(t, h.holds())
	h.assertHoldingInvariant()
}

func TestWithdrawProductOverAllocation(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")
	_, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.NoError(t, err)
	before := h.orderCount()

	_, err = h.engine.WithdrawProduct(h.ctx, h.request(6, testDay))
	require.ErrorIs(t, err, domain.ErrOverAllocation)

	assert.Equal(t, before, h.orderCount(), "no sell order may be created")
	assert.True(t, h.portfolioBalance().Equal(dec("500")))
	assert.Equal(t, 5, h.quotesAvailable())
}

func TestSellAllDisposesHolding(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")
	_, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.NoError(t, err)

	order, err := h.engine.WithdrawProduct(h.ctx, h.request(5, testDay))
	require.NoError(t, err)
	assert.True(t, order.Executed())

	assert.Zero(t, h.quotesAvailable())
	assert.False(t, h.holds())
	assert.True(t, h.portfolioBalance().Equal(dec("1000")))
}

func TestPartialSellKeepsHolding(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")
	_, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.NoError(t, err)

	_, err = h.engine.WithdrawProduct(h.ctx, h.request(2, testDay))
	require.NoError(t, err)

	assert.Equal(t, 3, h.quotesAvailable())
	assert.True(t, h.holds())
	assert.True(t, h.portfolioBalance().Equal(dec("700")))
}

func TestPendingSellReservesQuotes(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")
	_, err := h.engine.Invest(h.ctx, h.request(5, testDay))
	require.NoError(t, err)

	future := testDay.AddDate(0, 0, 7)
	_, err = h.engine.WithdrawProduct(h.ctx, h.request(3, future))
	require.NoError(t, err)
	assert.Equal(t, 5, h.quotesAvailable(), "a pending sell does not reduce settled quotes")

	_, err = h.engine.WithdrawProduct(h.ctx, h.request(3, testDay))
	require.ErrorIs(t, err, domain.ErrOverAllocation)

	_, err = h.engine.WithdrawProduct(h.ctx, h.request(2, testDay))
	require.NoError(t, err)
	assert.Equal(t, 3, h.quotesAvailable())

	h.clock.AddDays(7)
	report, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Zero(t, h.quotesAvailable())
	assert.False(t, h.holds())
}

func TestPriceIsFrozenAtOrderCreation(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	order, err := h.engine.Invest(h.ctx, h.request(5, testDay.AddDate(0, 0, 1)))
	require.NoError(t, err)

	require.NoError(t, h.prods.UpdatePrice(h.ctx, h.productID, dec("150")))
	h.clock.AddDays(1)

	report, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Executed)

	stored, err := h.orders.GetByID(h.ctx, nil, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.UnitPrice.Equal(dec("100")))
	assert.True(t, stored.NetValue.Equal(dec("500")))
	assert.True(t, h.portfolioBalance().Equal(dec("500")), "settled at the frozen net value")
}

func TestExecuteDueOrdersRunsAtMostOnce(t *testing.T) {
	h := newHarness(t, "0", "1000", "10")
	for i := 1; i <= 3; i++ {
		_, err := h.engine.Invest(h.ctx, h.request(i, testDay.AddDate(0, 0, 1)))
		require.NoError(t, err)
	}
	h.clock.AddDays(1)

	first, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Executed)

	second, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Due)
	assert.Zero(t, second.Executed)

	assert.True(t, h.portfolioBalance().Equal(dec("940")))
	assert.Equal(t, 6, h.quotesAvailable())
}

func TestExecuteDueOrdersConcurrentRuns(t *testing.T) {
	h := newHarness(t, "0", "10000", "10")
	const orders = 8
	for range orders {
		_, err := h.engine.Invest(h.ctx, h.request(1, testDay.AddDate(0, 0, 1)))
		require.NoError(t, err)
	}
	h.clock.AddDays(1)

	const runs = 4
	reports := make([]BatchReport, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.ExecuteDueOrders(h.ctx)
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	executed := 0
	for _, r := range reports {
		executed += r.Executed
		assert.NoError(t, r.Err())
	}
	assert.Equal(t, orders, executed, "every order settles exactly once")
	assert.True(t, h.portfolioBalance().Equal(dec("9920")), "balance %s", h.portfolioBalance())
}

func TestExecuteDueOrdersIsolatesFailures(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")
	tomorrow := testDay.AddDate(0, 0, 1)

	first, err := h.engine.Invest(h.ctx, h.request(6, tomorrow))
	require.NoError(t, err)
	second, err := h.engine.Invest(h.ctx, h.request(6, tomorrow))
	require.NoError(t, err)
	h.clock.AddDays(1)

	report, err := h.engine.ExecuteDueOrders(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Executed)
	require.Equal(t, []int64{second.ID}, report.FailedIDs())
	assert.ErrorIs(t, report.Failures[second.ID], domain.ErrInsufficientFunds)
	assert.ErrorIs(t, report.Err(), domain.ErrInsufficientFunds)

	got, err := h.orders.GetByID(h.ctx, nil, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Executed())
	got, err = h.orders.GetByID(h.ctx, nil, second.ID)
	require.NoError(t, err)
	assert.False(t, got.Executed(), "failed order stays pending")

	assert.True(t, h.portfolioBalance().Equal(dec("400")))
	assert.False(t, h.portfolioBalance().IsNegative())
}

func TestExecuteOrderGuards(t *testing.T) {
	h := newHarness(t, "0", "1000", "100")

	settled, err := h.engine.Invest(h.ctx, h.request(1, testDay))
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.ExecuteBuyOrder(h.ctx, settled), domain.ErrAlreadyExecuted)

	pending, err := h.engine.Invest(h.ctx, h.request(1, testDay.AddDate(0, 0, 5)))
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.ExecuteBuyOrder(h.ctx, pending), domain.ErrNotDue)
	assert.ErrorIs(t, h.engine.ExecuteSellOrder(h.ctx, pending), domain.ErrInvalidOrder)

	assert.True(t, h.portfolioBalance().Equal(dec("900")))
}

func TestDepositInsufficientBankFunds(t *testing.T) {
	h := newHarness(t, "100", "0", "1")

	err := h.engine.Deposit(h.ctx, dec("200"), h.customerID, h.portfolioID)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.True(t, h.bankBalance().Equal(dec("100")))
	assert.True(t, h.portfolioBalance().Equal(dec("0")))
}

func TestTransfersConserveMoney(t *testing.T) {
	h := newHarness(t, "250.75", "10", "1")
	total := h.bankBalance().Add(h.portfolioBalance())

	steps := []struct {
		name    string
		deposit bool
		amount  string
		wantErr error
	}{
		{"deposit part", true, "100.25", nil},
		{"withdraw part", false, "50", nil},
		{"withdraw too much", false, "1000", domain.ErrInsufficientFunds},
		{"deposit rest", true, "200.50", nil},
		{"deposit with empty bank", true, "0.01", domain.ErrInsufficientFunds},
		{"zero amount", true, "0", domain.ErrInvalidAmount},
		{"negative amount", false, "-5", domain.ErrInvalidAmount},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			var err error
			if st.deposit {
				err = h.engine.Deposit(h.ctx, dec(st.amount), h.customerID, h.portfolioID)
			} else {
				err = h.engine.Withdraw(h.ctx, dec(st.amount), h.customerID, h.portfolioID)
			}
			if st.wantErr != nil {
				assert.ErrorIs(t, err, st.wantErr)
			} else {
				assert.NoError(t, err)
			}

			assert.True(t, total.Equal(h.bankBalance().Add(h.portfolioBalance())), "money must be conserved")
			assert.False(t, h.bankBalance().IsNegative())
			assert.False(t, h.portfolioBalance().IsNegative())
		})
	}

	assert.True(t, h.bankBalance().IsZero())
	assert.True(t, h.portfolioBalance().Equal(dec("260.75")))
}

func TestTransferRequiresOwnedPortfolio(t *testing.T) {
	h := newHarness(t, "100", "100", "1")

	otherID, err := h.ledger.Customers.Create(h.ctx, nil, domain.Customer{FullName: "Eve", Email: "eve@example.com"})
	require.NoError(t, err)
	require.NoError(t, h.ledger.Accounts.Create(h.ctx, nil, domain.BankAccount{CustomerID: otherID, Balance: dec("100")}))

	assert.ErrorIs(t, h.engine.Deposit(h.ctx, dec("10"), otherID, h.portfolioID), domain.ErrNotFound)
	assert.ErrorIs(t, h.engine.Withdraw(h.ctx, dec("10"), otherID, h.portfolioID), domain.ErrNotFound)
	assert.True(t, h.portfolioBalance().Equal(dec("100")))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	h := newHarness(t, "0", "100", "1")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.engine.Withdraw(h.ctx, dec("30"), h.customerID, h.portfolioID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.True(t, h.portfolioBalance().Equal(dec("10")))
	assert.True(t, h.bankBalance().Equal(dec("90")))
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestExecuteDueOrdersRespectsBatchLock(t *testing.T) {
	h := newHarness(t, "0", "1000", "1")
	h.engine.WithLocker(heldLock{}, time.Minute)

	_, err := h.engine.ExecuteDueOrders(h.ctx)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestBalances(t *testing.T) {
	h := newHarness(t, "12.5", "7.25", "1")

	bank, portfolio, err := h.engine.Balances(h.ctx, h.customerID, h.portfolioID)
	require.NoError(t, err)
	assert.True(t, bank.Equal(dec("12.5")))
	assert.True(t, portfolio.Equal(dec("7.25")))
}
