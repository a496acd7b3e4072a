// Package id generates time-sortable identifiers for settlement runs and
// published events.
package id

import (
	cryptorand "crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a ULID for the current instant.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a ULID stamped with t. IDs created within the same
// millisecond still sort in creation order.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String()
}

// Time extracts the timestamp from an id produced by New.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
