package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/service"
)

// PortfolioEngine is the slice of the settlement engine the portfolio
// handler drives.
type PortfolioEngine interface {
	Invest(ctx context.Context, req service.OrderRequest) (domain.Order, error)
	WithdrawProduct(ctx context.Context, req service.OrderRequest) (domain.Order, error)
	Deposit(ctx context.Context, amount decimal.Decimal, customerID, portfolioID int64) error
	Withdraw(ctx context.Context, amount decimal.Decimal, customerID, portfolioID int64) error
	Balances(ctx context.Context, customerID, portfolioID int64) (bank, portfolio decimal.Decimal, err error)
}

// HoldingLister lists the products a portfolio currently holds.
type HoldingLister interface {
	ListByPortfolio(ctx context.Context, tx domain.Tx, portfolioID int64) ([]domain.Holding, error)
}

// QuoteCounter reports settled quotes of a product in a portfolio.
type QuoteCounter interface {
	QuotesAvailable(ctx context.Context, tx domain.Tx, portfolioID, productID int64) (int, error)
}

// PortfolioHandler serves order placement and cash transfers for a single
// portfolio.
type PortfolioHandler struct {
	engine   PortfolioEngine
	holdings HoldingLister
	quotes   QuoteCounter
	logger   *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(engine PortfolioEngine, holdings HoldingLister, quotes QuoteCounter, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		engine:   engine,
		holdings: holdings,
		quotes:   quotes,
		logger:   logger,
	}
}

type orderRequest struct {
	ProductID   int64  `json:"product_id"`
	Quotes      int    `json:"quotes"`
	LiquidateAt string `json:"liquidate_at,omitempty"`
}

type transferRequest struct {
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	CustomerID  int64           `json:"customer_id"`
	PortfolioID int64           `json:"portfolio_id"`
	Bank        decimal.Decimal `json:"bank"`
	Portfolio   decimal.Decimal `json:"portfolio"`
}

type holdingView struct {
	domain.Holding
	Quotes int `json:"quotes"`
}

// Invest places a buy order.
// POST /api/portfolios/{id}/invest
func (h *PortfolioHandler) Invest(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, "invest", h.engine.Invest)
}

// Divest places a sell order.
// POST /api/portfolios/{id}/divest
func (h *PortfolioHandler) Divest(w http.ResponseWriter, r *http.Request) {
	h.placeOrder(w, r, "divest", h.engine.WithdrawProduct)
}

func (h *PortfolioHandler) placeOrder(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	place func(context.Context, service.OrderRequest) (domain.Order, error),
) {
	portfolioID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var body orderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	liquidateAt, err := parseDate(body.LiquidateAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	order, err := place(r.Context(), service.OrderRequest{
		Quotes:      body.Quotes,
		LiquidateAt: liquidateAt,
		ProductID:   body.ProductID,
		PortfolioID: portfolioID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, action, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// Deposit moves cash from the customer's bank account into the portfolio.
// POST /api/portfolios/{id}/deposit
func (h *PortfolioHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "deposit", h.engine.Deposit)
}

// Withdraw moves cash from the portfolio back to the bank account.
// POST /api/portfolios/{id}/withdraw
func (h *PortfolioHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "withdraw", h.engine.Withdraw)
}

func (h *PortfolioHandler) transfer(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	move func(context.Context, decimal.Decimal, int64, int64) error,
) {
	portfolioID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var body transferRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if body.CustomerID <= 0 {
		writeError(w, r, http.StatusBadRequest, "customer_id is required")
		return
	}

	if err := move(r.Context(), body.Amount, body.CustomerID, portfolioID); err != nil {
		writeDomainError(w, r, h.logger, action, err)
		return
	}
	h.writeBalances(w, r, body.CustomerID, portfolioID)
}

// Balance returns the bank and portfolio balances.
// GET /api/portfolios/{id}/balance?customer_id=...
func (h *PortfolioHandler) Balance(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	customerID, err := queryID(r, "customer_id")
	if err != nil || customerID == 0 {
		writeError(w, r, http.StatusBadRequest, "customer_id query parameter required")
		return
	}
	h.writeBalances(w, r, customerID, portfolioID)
}

func (h *PortfolioHandler) writeBalances(w http.ResponseWriter, r *http.Request, customerID, portfolioID int64) {
	bank, portfolio, err := h.engine.Balances(r.Context(), customerID, portfolioID)
	if err != nil {
		writeDomainError(w, r, h.logger, "read balances", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		CustomerID:  customerID,
		PortfolioID: portfolioID,
		Bank:        bank,
		Portfolio:   portfolio,
	})
}

// Holdings lists the products the portfolio holds with their settled quotes.
// GET /api/portfolios/{id}/holdings
func (h *PortfolioHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	held, err := h.holdings.ListByPortfolio(r.Context(), nil, portfolioID)
	if err != nil {
		writeDomainError(w, r, h.logger, "list holdings", err)
		return
	}
	out := make([]holdingView, 0, len(held))
	for _, hd := range held {
		quotes, err := h.quotes.QuotesAvailable(r.Context(), nil, portfolioID, hd.ProductID)
		if err != nil {
			writeDomainError(w, r, h.logger, "list holdings", err)
			return
		}
		out = append(out, holdingView{Holding: hd, Quotes: quotes})
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": out})
}
