package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for range 1000 {
		next := New()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 30, 15, 250_000_000, time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got), "want %s got %s", at, got)

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
