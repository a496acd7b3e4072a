package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether an order buys or sells quotes.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Order is a request to move quotes of a product in or out of a portfolio.
// UnitPrice and NetValue are captured at creation and never recomputed.
type Order struct {
	ID          int64           `json:"id"`
	PortfolioID int64           `json:"portfolio_id"`
	ProductID   int64           `json:"product_id"`
	Direction   Direction       `json:"direction"`
	Quotes      int             `json:"quotes"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	NetValue    decimal.Decimal `json:"net_value"`
	LiquidateAt time.Time       `json:"liquidate_at"`
	CreatedAt   time.Time       `json:"created_at"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
}

// NewOrder builds an unsaved order, freezing the net value from the quoted
// unit price. liquidateAt is truncated to its calendar date.
func NewOrder(dir Direction, quotes int, unitPrice decimal.Decimal, liquidateAt time.Time, productID, portfolioID int64) Order {
	return Order{
		PortfolioID: portfolioID,
		ProductID:   productID,
		Direction:   dir,
		Quotes:      quotes,
		UnitPrice:   unitPrice,
		NetValue:    unitPrice.Mul(decimal.NewFromInt(int64(quotes))),
		LiquidateAt: DateOf(liquidateAt),
	}
}

// Executed reports whether the order has been settled.
func (o Order) Executed() bool {
	return o.ExecutedAt != nil
}

// DueOn reports whether the order may execute on the given day.
func (o Order) DueOn(today time.Time) bool {
	return !DateOf(o.LiquidateAt).After(DateOf(today))
}

// Validate checks the fields a caller controls.
func (o Order) Validate() error {
	if o.Quotes <= 0 || !o.Direction.Valid() || o.ProductID == 0 || o.PortfolioID == 0 {
		return ErrInvalidOrder
	}
	if !o.UnitPrice.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}

// OrderStatus is the derived settlement state used for filtering.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusExecuted OrderStatus = "executed"
)

// OrderFilter narrows order listings. Zero values mean "any".
type OrderFilter struct {
	PortfolioID int64
	ProductID   int64
	Status      OrderStatus
	ListOpts
}

// DateOf returns midnight UTC of t's calendar date in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"
