package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/everest/internal/domain"
)

// Both scripts act only while the key still holds the caller's token, so a
// holder whose lock expired cannot touch a lock someone else now owns.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// LockManager implements domain.LockManager with SET NX PX.
type LockManager struct {
	c      *Client
	renew  bool
	logger *slog.Logger
}

// LockOption configures a LockManager.
type LockOption func(*LockManager)

// WithRenewal keeps held locks alive by re-arming their TTL every third of
// it until released. A settlement batch that outlives its TTL then stays
// exclusive, while a crashed holder still loses the lock after one TTL.
func WithRenewal(logger *slog.Logger) LockOption {
	return func(lm *LockManager) {
		lm.renew = true
		lm.logger = logger
	}
}

func NewLockManager(c *Client, opts ...LockOption) *LockManager {
	lm := &LockManager{c: c}
	for _, o := range opts {
		o(lm)
	}
	return lm
}

// Acquire takes the lock for key. The returned release is idempotent. When
// another holder owns the key the error wraps domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lk := lm.c.key(key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if lm.renew {
		go lm.keepAlive(lk, token, ttl, stop, done)
	} else {
		close(done)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// Runs after the caller's context may be gone.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(relCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return release, nil
}

func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	tick := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), ttl/3+time.Second)
		held, err := renewScript.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			lm.logger.Warn("redis: lock renewal failed", slog.String("key", lk), slog.String("error", err.Error()))
		case held == 0:
			lm.logger.Warn("redis: lock lost before release", slog.String("key", lk))
			return
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
