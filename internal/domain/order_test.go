package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewOrderFreezesNetValue(t *testing.T) {
	t.Parallel()

	price := decimal.RequireFromString("100.25")
	at := time.Date(2026, 3, 4, 17, 30, 0, 0, time.UTC)
	o := NewOrder(DirectionBuy, 4, price, at, 7, 9)

	assert.True(t, decimal.RequireFromString("401").Equal(o.NetValue))
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), o.LiquidateAt)
	assert.Equal(t, int64(7), o.ProductID)
	assert.Equal(t, int64(9), o.PortfolioID)
	assert.False(t, o.Executed())
}

func TestOrderDueOn(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 5, 10, 23, 59, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"yesterday", today.AddDate(0, 0, -1), true},
		{"today early", time.Date(2026, 5, 10, 0, 0, 1, 0, time.UTC), true},
		{"tomorrow", today.AddDate(0, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder(DirectionSell, 1, decimal.NewFromInt(1), tt.at, 1, 1)
			assert.Equal(t, tt.want, o.DueOn(today))
		})
	}
}

func TestOrderValidate(t *testing.T) {
	t.Parallel()

	ok := NewOrder(DirectionBuy, 1, decimal.NewFromInt(10), time.Now(), 1, 1)
	assert.NoError(t, ok.Validate())

	zeroQuotes := ok
	zeroQuotes.Quotes = 0
	assert.ErrorIs(t, zeroQuotes.Validate(), ErrInvalidOrder)

	badDir := ok
	badDir.Direction = "hold"
	assert.ErrorIs(t, badDir.Validate(), ErrInvalidOrder)

	freeProduct := ok
	freeProduct.UnitPrice = decimal.Zero
	assert.ErrorIs(t, freeProduct.Validate(), ErrInvalidOrder)
}

func TestProductDaysToExpire(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	past := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 30, Product{ExpirationAt: &exp}.DaysToExpire(today))
	assert.Equal(t, 0, Product{ExpirationAt: &past}.DaysToExpire(today))
	assert.Equal(t, -1, Product{}.DaysToExpire(today))
}
