package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	// sendBuffer must hold a full replay plus its framing.
	sendBuffer = replayLimit + 16
)

// subscribeMsg narrows or widens the portfolios a client follows.
type subscribeMsg struct {
	Action     string  `json:"action"` // "subscribe" or "unsubscribe"
	Portfolios []int64 `json:"portfolios"`
}

// client is one connection. An empty portfolio set follows everything.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	portfolios map[int64]bool
}

func newClient(h *Hub, conn *websocket.Conn, remote string, follow []int64) *client {
	c := &client{
		hub:        h,
		conn:       conn,
		remote:     remote,
		send:       make(chan []byte, sendBuffer),
		portfolios: make(map[int64]bool, len(follow)),
	}
	for _, id := range follow {
		c.portfolios[id] = true
	}
	return c
}

// offer queues msg without blocking. It reports false when the buffer is
// full; a closed client silently discards.
func (c *client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) offerFrame(f frame) {
	if msg, err := json.Marshal(f); err == nil {
		c.offer(msg)
	}
}

// close ends the write loop. Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// follows reports whether an event for portfolioID reaches the client.
// Events without a portfolio, like batch summaries, reach everyone.
func (c *client) follows(portfolioID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.portfolios) == 0 || portfolioID == 0 || c.portfolios[portfolioID]
}

func (c *client) following() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.portfolios))
	for id := range c.portfolios {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	for _, id := range msg.Portfolios {
		switch msg.Action {
		case "subscribe":
			c.portfolios[id] = true
		case "unsubscribe":
			delete(c.portfolios, id)
		}
	}
	c.mu.Unlock()
	c.offerFrame(frame{Type: "subscribed", Payload: map[string]any{"portfolios": c.following()}})
}

func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: connection dropped", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil || (msg.Action != "subscribe" && msg.Action != "unsubscribe") {
			c.offerFrame(frame{Type: "error", Payload: map[string]string{"error": "expected {\"action\":\"subscribe\"|\"unsubscribe\",\"portfolios\":[...]}"}})
			continue
		}
		c.apply(msg)
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
