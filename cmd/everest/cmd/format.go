package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/notify"
)

func money(amount decimal.Decimal, currency string) string {
	return notify.FormatAmount(amount, currency)
}

func printOrder(w io.Writer, o domain.Order, currency string) {
	state := "pending"
	if o.Executed() {
		state = "executed"
	}
	fmt.Fprintf(w, "order %d %s %d x product %d @ %s = %s, liquidate %s, %s\n",
		o.ID, o.Direction, o.Quotes, o.ProductID,
		money(o.UnitPrice, currency), money(o.NetValue, currency),
		o.LiquidateAt.Format(domain.DateLayout), state)
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q must be a positive integer: %w", what, s, domain.ErrInvalidInput)
	}
	return id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, domain.ErrInvalidAmount)
	}
	return d, nil
}

// parseDateFlag parses YYYY-MM-DD; empty yields the zero time.
func parseDateFlag(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s %q: want YYYY-MM-DD: %w", flag, s, domain.ErrInvalidInput)
	}
	return t, nil
}

func parseOptionalDate(flag, s string) (*time.Time, error) {
	t, err := parseDateFlag(flag, s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
