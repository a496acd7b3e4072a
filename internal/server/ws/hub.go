// Package ws streams settlement events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/everest/internal/domain"
)

// replayLimit caps how many stored events a reconnecting client receives.
const replayLimit = 500

// frame is every message the hub writes. ID is the stream id and is only
// set on replayed events.
type frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithOriginCheck restricts which browser origins may connect. The default
// accepts any origin.
func WithOriginCheck(check func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

// Hub relays events from domain.ChannelSettlements to connected clients.
// Clients may narrow the feed to a set of portfolios and, on connect, ask
// for the events they missed since a stream id.
type Hub struct {
	bus      domain.EventBus
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mode     string
	started  time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(bus domain.EventBus, mode string, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		bus:     bus,
		logger:  logger,
		mode:    mode,
		started: time.Now().UTC(),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run relays bus events until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	events, err := h.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return fmt.Errorf("ws: subscribe %s: %w", domain.ChannelSettlements, err)
	}
	h.logger.Info("ws: relaying settlement events", slog.String("channel", domain.ChannelSettlements))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				<-ctx.Done()
				return ctx.Err()
			}
			var evt domain.SettlementEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt domain.SettlementEvent) {
	msg, err := json.Marshal(frame{Type: evt.Event, Payload: evt})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.follows(evt.PortfolioID) && !c.offer(msg) {
			h.logger.Warn("ws: client too slow, dropping event",
				slog.String("event", evt.Event),
				slog.String("remote", c.remote),
			)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
}

// HandleWS upgrades the request and starts streaming.
// GET /ws?portfolios=1,2&since=<stream id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	follow, err := parsePortfolios(r.URL.Query().Get("portfolios"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.RemoteAddr, follow)
	c.offerFrame(frame{Type: "hello", Payload: map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"portfolios":     c.following(),
	}})
	if since := r.URL.Query().Get("since"); since != "" {
		h.replay(r.Context(), c, since)
	}
	if !h.add(c) {
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// replay sends stored events after since that the client follows, then a
// "replayed" frame carrying the last id seen.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, domain.StreamSettlements, since, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
		c.offerFrame(frame{Type: "error", Payload: map[string]string{"error": "replay unavailable"}})
		return
	}
	last := since
	for _, m := range msgs {
		last = m.ID
		var evt domain.SettlementEvent
		if json.Unmarshal(m.Payload, &evt) != nil || !c.follows(evt.PortfolioID) {
			continue
		}
		c.offerFrame(frame{Type: evt.Event, ID: m.ID, Payload: evt})
	}
	c.offerFrame(frame{Type: "replayed", Payload: map[string]any{"last_id": last, "count": len(msgs)}})
}

func parsePortfolios(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("portfolios: %q is not a portfolio id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
