package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/everest/internal/pkg/id"
)

// BatchReport summarizes one ExecuteDueOrders run.
type BatchReport struct {
	RunID    string          `json:"run_id"`
	AsOf     time.Time       `json:"as_of"`
	Due      int             `json:"due"`
	Executed int             `json:"executed"`
	Skipped  int             `json:"skipped"`
	Failures map[int64]error `json:"-"`
	Duration time.Duration   `json:"duration"`
}

func newBatchReport(started, asOf time.Time) BatchReport {
	return BatchReport{
		RunID:    id.NewAt(started),
		AsOf:     asOf,
		Failures: make(map[int64]error),
	}
}

// Failed is the number of orders that could not be settled.
func (r BatchReport) Failed() int {
	return len(r.Failures)
}

// FailedIDs returns the failed order ids in ascending order.
func (r BatchReport) FailedIDs() []int64 {
	return slices.Sorted(maps.Keys(r.Failures))
}

// Err joins every per-order failure, or returns nil when all succeeded.
func (r BatchReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, orderID := range r.FailedIDs() {
		errs = append(errs, fmt.Errorf("order %d: %w", orderID, r.Failures[orderID]))
	}
	return errors.Join(errs...)
}

// FailureMessages renders failures for JSON responses and notifications.
func (r BatchReport) FailureMessages() map[int64]string {
	out := make(map[int64]string, len(r.Failures))
	for orderID, err := range r.Failures {
		out[orderID] = err.Error()
	}
	return out
}
