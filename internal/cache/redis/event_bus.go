package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/everest/internal/domain"
)

const (
	defaultStreamMaxLen int64 = 10000
	defaultSubBuffer          = 128
	payloadField              = "payload"
)

// EventBus carries live settlement events over Pub/Sub and keeps a trimmed
// Redis Stream of the same events for replay.
type EventBus struct {
	c         *Client
	maxLen    int64
	subBuffer int
}

type EventBusOption func(*EventBus)

// WithStreamMaxLen bounds each stream to roughly n entries. Zero or less
// keeps the default.
func WithStreamMaxLen(n int64) EventBusOption {
	return func(b *EventBus) {
		if n > 0 {
			b.maxLen = n
		}
	}
}

func NewEventBus(c *Client, opts ...EventBusOption) *EventBus {
	b := &EventBus{c: c, maxLen: defaultStreamMaxLen, subBuffer: defaultSubBuffer}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, b.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe relays messages on channel until ctx ends, then closes the
// returned channel. Names containing glob characters use PSUBSCRIBE.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := b.c.key(channel)
	sub := b.c.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		sub = b.c.rdb.PSubscribe
	}
	ps := sub(ctx, name)

	// Receive blocks until the server confirms, so nothing published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := ps.Channel(redis.WithChannelSize(b.subBuffer))
	out := make(chan []byte, b.subBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream with an approximate MAXLEN trim.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.c.key(stream),
		MaxLen: b.maxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID, oldest
// first. An empty lastID or "0" reads from the start of the stream.
func (b *EventBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	entries, err := b.c.rdb.XRangeN(ctx, b.c.key(stream), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s after %s: %w", stream, lastID, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if p, ok := e.Values[payloadField].(string); ok {
			out = append(out, domain.StreamMessage{ID: e.ID, Payload: []byte(p)})
		}
	}
	return out, nil
}

var _ domain.EventBus = (*EventBus)(nil)
