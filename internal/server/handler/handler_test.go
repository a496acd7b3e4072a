package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/server/middleware"
	"github.com/alanyoungcy/everest/internal/service"
)

var testToday = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

type fakeEngine struct {
	lastReq      service.OrderRequest
	lastAmount   decimal.Decimal
	lastCustomer int64
	err          error
	report       service.BatchReport
}

func (f *fakeEngine) place(dir domain.Direction, req service.OrderRequest) (domain.Order, error) {
	f.lastReq = req
	if f.err != nil {
		return domain.Order{}, f.err
	}
	o := domain.NewOrder(dir, req.Quotes, decimal.NewFromInt(100), req.LiquidateAt, req.ProductID, req.PortfolioID)
	o.ID = 7
	return o, nil
}

func (f *fakeEngine) Invest(_ context.Context, req service.OrderRequest) (domain.Order, error) {
	return f.place(domain.DirectionBuy, req)
}

func (f *fakeEngine) WithdrawProduct(_ context.Context, req service.OrderRequest) (domain.Order, error) {
	return f.place(domain.DirectionSell, req)
}

func (f *fakeEngine) Deposit(_ context.Context, amount decimal.Decimal, customerID, _ int64) error {
	f.lastAmount, f.lastCustomer = amount, customerID
	return f.err
}

func (f *fakeEngine) Withdraw(_ context.Context, amount decimal.Decimal, customerID, _ int64) error {
	f.lastAmount, f.lastCustomer = amount, customerID
	return f.err
}

func (f *fakeEngine) Balances(_ context.Context, customerID, _ int64) (decimal.Decimal, decimal.Decimal, error) {
	if customerID == 99 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("engine: balances: %w", domain.ErrNotFound)
	}
	return decimal.NewFromInt(250), decimal.NewFromInt(750), nil
}

func (f *fakeEngine) ExecuteOrder(_ context.Context, id int64) (domain.Order, error) {
	if f.err != nil {
		return domain.Order{}, f.err
	}
	return domain.Order{ID: id}, nil
}

func (f *fakeEngine) ExecuteDueOrders(_ context.Context) (service.BatchReport, error) {
	return f.report, f.err
}

type fakeOrders struct {
	filter  domain.OrderFilter
	deleted []int64
}

func (f *fakeOrders) GetByID(_ context.Context, _ domain.Tx, id int64) (domain.Order, error) {
	if id != 1 {
		return domain.Order{}, fmt.Errorf("order_service: get %d: %w", id, domain.ErrNotFound)
	}
	return domain.Order{ID: 1, Quotes: 3, Direction: domain.DirectionBuy}, nil
}

func (f *fakeOrders) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	f.filter = filter
	return nil, nil
}

func (f *fakeOrders) Delete(_ context.Context, id int64) error {
	if id == 2 {
		return domain.ErrAlreadyExecuted
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeHoldings struct{}

func (fakeHoldings) ListByPortfolio(_ context.Context, _ domain.Tx, portfolioID int64) ([]domain.Holding, error) {
	return []domain.Holding{{PortfolioID: portfolioID, ProductID: 4}}, nil
}

func (fakeHoldings) QuotesAvailable(_ context.Context, _ domain.Tx, _, productID int64) (int, error) {
	return int(productID) * 10, nil
}

func newTestMux(engine *fakeEngine, orders *fakeOrders) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ph := NewPortfolioHandler(engine, fakeHoldings{}, fakeHoldings{}, logger)
	oh := NewOrderHandler(orders, engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/portfolios/{id}/invest", ph.Invest)
	mux.HandleFunc("POST /api/portfolios/{id}/divest", ph.Divest)
	mux.HandleFunc("POST /api/portfolios/{id}/deposit", ph.Deposit)
	mux.HandleFunc("POST /api/portfolios/{id}/withdraw", ph.Withdraw)
	mux.HandleFunc("GET /api/portfolios/{id}/balance", ph.Balance)
	mux.HandleFunc("GET /api/portfolios/{id}/holdings", ph.Holdings)
	mux.HandleFunc("GET /api/orders", oh.ListOrders)
	mux.HandleFunc("POST /api/orders/execute-due", oh.ExecuteDue)
	mux.HandleFunc("GET /api/orders/{id}", oh.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/execute", oh.ExecuteOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", oh.DeleteOrder)
	return mux
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rd))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrOverAllocation, http.StatusUnprocessableEntity},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidOrder, http.StatusBadRequest},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrAlreadyExecuted, http.StatusConflict},
		{domain.ErrNotDue, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrStorage, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("engine: invest: %w", tt.err)
			assert.Equal(t, tt.want, statusFor(wrapped))
		})
	}
}

func TestInvestParsesRequest(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine, &fakeOrders{})

	rec, body := do(t, mux, http.MethodPost, "/api/portfolios/3/invest",
		`{"product_id":4,"quotes":5,"liquidate_at":"2026-03-12"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, int64(3), engine.lastReq.PortfolioID)
	assert.Equal(t, int64(4), engine.lastReq.ProductID)
	assert.Equal(t, 5, engine.lastReq.Quotes)
	assert.Equal(t, "2026-03-12", engine.lastReq.LiquidateAt.Format(domain.DateLayout))
	assert.Equal(t, "buy", body["direction"])
	assert.Equal(t, "500", body["net_value"])
}

func TestInvestDefaultsToToday(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine, &fakeOrders{})

	rec, _ := do(t, mux, http.MethodPost, "/api/portfolios/3/divest", `{"product_id":4,"quotes":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, engine.lastReq.LiquidateAt.IsZero())
}

func TestPlaceOrderRejectsBadInput(t *testing.T) {
	mux := newTestMux(&fakeEngine{}, &fakeOrders{})

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"non numeric id", "/api/portfolios/abc/invest", `{"product_id":1,"quotes":1}`},
		{"zero id", "/api/portfolios/0/invest", `{"product_id":1,"quotes":1}`},
		{"bad date", "/api/portfolios/1/invest", `{"product_id":1,"quotes":1,"liquidate_at":"12/03/2026"}`},
		{"unknown field", "/api/portfolios/1/invest", `{"product_id":1,"quotes":1,"price":3}`},
		{"malformed", "/api/portfolios/1/invest", `{"product_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, mux, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	engine := &fakeEngine{err: fmt.Errorf("engine: invest: %w", domain.ErrInsufficientFunds)}
	mux := newTestMux(engine, &fakeOrders{})

	rec, body := do(t, mux, http.MethodPost, "/api/portfolios/1/invest", `{"product_id":1,"quotes":6}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body["error"], "insufficient funds")

	engine.err = errors.New("pq: connection reset")
	rec, body = do(t, mux, http.MethodPost, "/api/portfolios/1/divest", `{"product_id":1,"quotes":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to divest", body["error"], "driver errors must not leak")
}

func TestTransferReturnsBalances(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine, &fakeOrders{})

	rec, body := do(t, mux, http.MethodPost, "/api/portfolios/2/deposit", `{"customer_id":5,"amount":"12.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, engine.lastAmount.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, int64(5), engine.lastCustomer)
	assert.Equal(t, "250", body["bank"])
	assert.Equal(t, "750", body["portfolio"])

	rec, _ = do(t, mux, http.MethodPost, "/api/portfolios/2/withdraw", `{"amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "customer_id is required")
}

func TestBalance(t *testing.T) {
	mux := newTestMux(&fakeEngine{}, &fakeOrders{})

	rec, body := do(t, mux, http.MethodGet, "/api/portfolios/2/balance?customer_id=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["portfolio_id"])

	rec, _ = do(t, mux, http.MethodGet, "/api/portfolios/2/balance?customer_id=99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, mux, http.MethodGet, "/api/portfolios/2/balance", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHoldingsIncludeQuotes(t *testing.T) {
	mux := newTestMux(&fakeEngine{}, &fakeOrders{})

	rec, body := do(t, mux, http.MethodGet, "/api/portfolios/2/holdings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	holdings := body["holdings"].([]any)
	require.Len(t, holdings, 1)
	h := holdings[0].(map[string]any)
	assert.Equal(t, float64(4), h["product_id"])
	assert.Equal(t, float64(40), h["quotes"])
}

func TestListOrdersFilter(t *testing.T) {
	orders := &fakeOrders{}
	mux := newTestMux(&fakeEngine{}, orders)

	rec, body := do(t, mux, http.MethodGet, "/api/orders?portfolio_id=3&status=pending&limit=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), orders.filter.PortfolioID)
	assert.Equal(t, domain.OrderStatusPending, orders.filter.Status)
	assert.Equal(t, 500, orders.filter.Limit)
	assert.Equal(t, []any{}, body["orders"])

	rec, _ = do(t, mux, http.MethodGet, "/api/orders?status=cancelled", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndDeleteOrder(t *testing.T) {
	orders := &fakeOrders{}
	mux := newTestMux(&fakeEngine{}, orders)

	rec, body := do(t, mux, http.MethodGet, "/api/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["quotes"])

	rec, _ = do(t, mux, http.MethodGet, "/api/orders/8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, mux, http.MethodDelete, "/api/orders/5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5}, orders.deleted)

	rec, _ = do(t, mux, http.MethodDelete, "/api/orders/2", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecuteOrderNotDue(t *testing.T) {
	engine := &fakeEngine{err: fmt.Errorf("engine: execute buy: %w", domain.ErrNotDue)}
	mux := newTestMux(engine, &fakeOrders{})

	rec, _ := do(t, mux, http.MethodPost, "/api/orders/4/execute", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecuteDueReportsFailures(t *testing.T) {
	engine := &fakeEngine{report: service.BatchReport{
		RunID:    "01JNX",
		AsOf:     testToday,
		Due:      3,
		Executed: 2,
		Failures: map[int64]error{9: domain.ErrInsufficientFunds},
	}}
	mux := newTestMux(engine, &fakeOrders{})

	rec, body := do(t, mux, http.MethodPost, "/api/orders/execute-due", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["due"])
	assert.Equal(t, float64(2), body["executed"])
	assert.Equal(t, map[string]any{"9": "insufficient funds"}, body["failures"])

	engine.err = fmt.Errorf("engine: execute due orders: %w", domain.ErrLockHeld)
	rec, _ = do(t, mux, http.MethodPost, "/api/orders/execute-due", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := NewHealthHandler(map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
		"redis":    nil,
	}, logger)
	rec, body := do(t, http.HandlerFunc(ok.HealthCheck), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"database": "ok"}, body["dependencies"])

	down := NewHealthHandler(map[string]Pinger{
		"redis": pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	}, logger)
	rec, body = do(t, http.HandlerFunc(down.HealthCheck), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

type memLog []domain.StreamMessage

func (m memLog) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	if stream != domain.StreamSettlements {
		return nil, errors.New("unexpected stream " + stream)
	}
	start := 0
	for i, msg := range m {
		if msg.ID == lastID {
			start = i + 1
		}
	}
	end := min(start+count, len(m))
	return m[start:end], nil
}

func TestListEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	payload := func(id int64) []byte {
		b, _ := json.Marshal(domain.SettlementEvent{Event: domain.EventOrderExecuted, OrderID: id})
		return b
	}
	log := memLog{
		{ID: "1-0", Payload: payload(1)},
		{ID: "2-0", Payload: []byte("not json")},
		{ID: "3-0", Payload: payload(3)},
	}
	h := http.HandlerFunc(NewEventHandler(log, logger).ListEvents)

	rec, body := do(t, h, http.MethodGet, "/api/events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.Len(t, events, 1, "malformed entries are skipped")
	assert.Equal(t, "1-0", events[0].(map[string]any)["id"])
	assert.Equal(t, "2-0", body["next"])

	_, body = do(t, h, http.MethodGet, "/api/events?after=2-0", "")
	events = body["events"].([]any)
	require.Len(t, events, 1)
	evt := events[0].(map[string]any)["event"].(map[string]any)
	assert.EqualValues(t, 3, evt["order_id"])
	assert.Equal(t, "3-0", body["next"])

	_, body = do(t, h, http.MethodGet, "/api/events?after=3-0", "")
	assert.Empty(t, body["events"])
	assert.Equal(t, "3-0", body["next"])

	rec, _ = do(t, h, http.MethodGet, "/api/events?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	mux := newTestMux(&fakeEngine{}, &fakeOrders{})

	rec, body := do(t, mux, http.MethodGet, "/api/orders?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "limit")

	rec, _ = do(t, mux, http.MethodGet, "/api/orders?offset=-5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, mux, http.MethodPost, "/api/portfolios/3/invest",
		`{"product_id":4,"quotes":5}{"product_id":4,"quotes":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "trailing data")
}

func TestErrorsCarryRequestID(t *testing.T) {
	mux := newTestMux(&fakeEngine{}, &fakeOrders{})
	h := middleware.Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/orders?portfolio_id=abc", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body["request_id"])
}
