package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/everest/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

var slidingWindow = redis.NewScript(slidingWindowLua)

// RateLimiter is a sliding-window limiter shared by every API replica. Each
// key is a sorted set of request timestamps trimmed and counted atomically
// by scripts/sliding_window.lua.
type RateLimiter struct {
	c   *Client
	now func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow counts one request for key and reports whether it fits under limit
// in the trailing window. Rejected requests are not counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	if window < time.Millisecond {
		return false, fmt.Errorf("redis: rate limit %s: window %s is below 1ms", key, window)
	}

	res, err := slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: script returned %d values", key, len(res))
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
