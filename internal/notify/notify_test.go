package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventBatchFailed, " "}, quietLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, Alert{Event: EventBatchDone, Title: "ignored"}))
	require.NoError(t, n.Notify(ctx, Alert{Event: EventBatchFailed, Title: "kept"}))

	assert.Equal(t, []string{"kept"}, s.sent)
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &stubSender{name: "bad", err: errors.New("boom")}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), Alert{Event: EventBatchFailed, Title: "title", Message: "body"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "bad: boom")
	assert.Len(t, good.sent, 1)
}

func TestNotifierCooldown(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, quietLogger(), WithCooldown(time.Minute))
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ctx := context.Background()
	failed := Alert{Event: EventBatchFailed, Title: "Settlement batch failed"}
	require.NoError(t, n.Notify(ctx, failed))
	require.NoError(t, n.Notify(ctx, failed))
	require.NoError(t, n.Notify(ctx, Alert{Event: EventArchiveFailed, Title: "Settlement batch failed"}))

	now = now.Add(time.Minute)
	require.NoError(t, n.Notify(ctx, failed))

	assert.Equal(t, []string{"Settlement batch failed", "Settlement batch failed", "Settlement batch failed"}, s.sent)
}

func TestNotifierWithoutSenders(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), Alert{Event: EventBatchFailed}))

	n = NewNotifier(nil, nil, quietLogger())
	assert.NoError(t, n.Notify(context.Background(), Alert{Event: EventBatchDone}))
}

func TestDiscordSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Batch failed", "2 orders"))
	assert.Equal(t, "**Batch failed**\n2 orders", got["content"])
}

func TestTelegramSender(t *testing.T) {
	var (
		path string
		got  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("T0K", "42").WithAPIBase(srv.URL+"/").Send(context.Background(), "batch_failed <run 7>", "a & b")
	assert.ErrorContains(t, err, "unexpected status 400")
	assert.Equal(t, "/botT0K/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>batch_failed &lt;run 7&gt;</b>\na &amp; b", got["text"])
}

func TestTelegramSenderHidesToken(t *testing.T) {
	err := NewTelegramSender("SECRET", "42").WithAPIBase("http://127.0.0.1:1").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestDiscordStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "rate limited", se.Body)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate(strings.Repeat("é", 10), 9)
	assert.LessOrEqual(t, len(got), 9)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$1,234.50", FormatAmount(decimal.RequireFromString("1234.5"), "USD"))
	assert.Equal(t, "$0.01", FormatAmount(decimal.RequireFromString("0.005"), "USD"))
	assert.Equal(t, "-$20.00", FormatAmount(decimal.NewFromInt(-20), "USD"))
	assert.Contains(t, FormatAmount(decimal.RequireFromString("1234.5"), "EUR"), "1,234.50")
}
