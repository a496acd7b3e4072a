package notify

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders amount in the display format of an ISO 4217
// currency, e.g. "$1,234.50" for USD. Amounts are rounded to the currency's
// minor unit.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.New(0, currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
