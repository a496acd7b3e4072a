package domain

import (
	"context"
	"time"
)

// ProductCache keeps recently quoted products close to the engine. A miss
// is reported as ErrNotFound.
type ProductCache interface {
	Set(ctx context.Context, p Product) error
	Get(ctx context.Context, id int64) (Product, error)
	Invalidate(ctx context.Context, id int64) error
}

// RateLimiter admits at most limit calls per key in any trailing window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out exclusive leases. Acquire fails with ErrLockHeld
// while another holder owns key; the lease lapses after ttl unless released
// first.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
