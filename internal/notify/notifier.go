// Package notify fans operator alerts out to chat webhooks. Alerts carry an
// event type so operators can subscribe to a subset.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Alert event types accepted in notify.events.
const (
	EventBatchFailed   = "batch_failed"
	EventBatchDone     = "batch_completed"
	EventArchiveFailed = "archive_failed"
)

// Alert is one operator notification.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type Option func(*Notifier)

// WithCooldown drops an alert whose event and title match one delivered
// less than d ago.
func WithCooldown(d time.Duration) Option {
	return func(n *Notifier) { n.cooldown = d }
}

// Notifier delivers alerts to every Sender concurrently.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		senders: senders,
		events:  make(map[string]bool, len(events)),
		logger:  logger.With(slog.String("component", "notifier")),
		now:     time.Now,
		last:    make(map[string]time.Time),
	}
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			n.events[e] = true
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify delivers a to every sender unless the event filter or the cooldown
// suppresses it. One failing sender does not stop the others; their errors
// are joined.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	if !n.admit(a) {
		n.logger.DebugContext(ctx, "alert in cooldown", slog.String("event", a.Event), slog.String("title", a.Title))
		return nil
	}

	errs := make([]error, len(n.senders))
	var g errgroup.Group
	for i, s := range n.senders {
		g.Go(func() error {
			if err := s.Send(ctx, a.Title, a.Message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return nil
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify %s: %w", a.Event, err)
	}
	return nil
}

func (n *Notifier) admit(a Alert) bool {
	if n.cooldown <= 0 {
		return true
	}
	key := a.Event + "\x00" + a.Title
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if at, ok := n.last[key]; ok && now.Sub(at) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}
