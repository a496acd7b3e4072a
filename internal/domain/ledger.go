package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer owns one bank account and any number of portfolios.
type Customer struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Portfolio is an investment account holding cash and product quotes.
type Portfolio struct {
	ID          int64           `json:"id"`
	CustomerID  int64           `json:"customer_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BankAccount is the customer's cash account outside any portfolio.
type BankAccount struct {
	CustomerID int64           `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
}

// Holding records that a portfolio currently holds quotes of a product.
type Holding struct {
	PortfolioID int64     `json:"portfolio_id"`
	ProductID   int64     `json:"product_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is a tradable instrument quoted at a single unit price.
type Product struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Type         string          `json:"type,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IssuanceAt   *time.Time      `json:"issuance_at,omitempty"`
	ExpirationAt *time.Time      `json:"expiration_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DaysToExpire returns whole days from today until expiration, or -1 when
// the product never expires.
func (p Product) DaysToExpire(today time.Time) int {
	if p.ExpirationAt == nil {
		return -1
	}
	days := int(DateOf(*p.ExpirationAt).Sub(DateOf(today)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
