package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), DefaultConfig(), isTransient, nil, func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	var seen []int
	got, err := Do(context.Background(), fastConfig(3), isTransient,
		func(attempt int, err error, _ time.Duration) {
			seen = append(seen, attempt)
			assert.ErrorIs(t, err, errTransient)
		},
		func() (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), fastConfig(5), isTransient, nil, func() error {
		calls++
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), fastConfig(2), isTransient, nil, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "gave up after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	calls := 0
	err := DoVoid(ctx, cfg, isTransient, func(int, error, time.Duration) { cancel() }, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
