package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/everest/internal/domain"
)

type chanBus struct {
	ch  chan []byte
	log []domain.StreamMessage
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.log {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

type wireFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func publish(t *testing.T, bus *chanBus, evt domain.SettlementEvent) {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelSettlements, data))
}

func dialHub(t *testing.T) (*websocket.Conn, *chanBus) {
	t.Helper()
	bus := &chanBus{ch: make(chan []byte, 16)}
	return dialHubWith(t, bus, ""), bus
}

func dialHubWith(t *testing.T, bus *chanBus, query string) *websocket.Conn {
	t.Helper()
	hub := NewHub(bus, "serve", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		conn.Close()
		srv.Close()
	})
	return conn
}

func TestHubSendsHelloAndEvents(t *testing.T) {
	conn, bus := dialHub(t)

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Contains(t, string(hello.Payload), `"mode":"serve"`)

	publish(t, bus, domain.SettlementEvent{Event: domain.EventOrderExecuted, OrderID: 11, PortfolioID: 1})
	got := readFrame(t, conn)
	assert.Equal(t, domain.EventOrderExecuted, got.Type)

	var evt domain.SettlementEvent
	require.NoError(t, json.Unmarshal(got.Payload, &evt))
	assert.Equal(t, int64(11), evt.OrderID)
}

func TestHubFiltersByPortfolio(t *testing.T) {
	conn, bus := dialHub(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Portfolios: []int64{2}}))
	ack := readFrame(t, conn)
	require.Equal(t, "subscribed", ack.Type)
	assert.JSONEq(t, `{"portfolios":[2]}`, string(ack.Payload))

	publish(t, bus, domain.SettlementEvent{Event: domain.EventTransfer, PortfolioID: 1})
	publish(t, bus, domain.SettlementEvent{Event: domain.EventTransfer, PortfolioID: 2, CustomerID: 5})
	publish(t, bus, domain.SettlementEvent{Event: domain.EventBatchCompleted})

	var evt domain.SettlementEvent
	first := readFrame(t, conn)
	require.NoError(t, json.Unmarshal(first.Payload, &evt))
	assert.Equal(t, int64(2), evt.PortfolioID, "events of unfollowed portfolios are filtered")

	second := readFrame(t, conn)
	assert.Equal(t, domain.EventBatchCompleted, second.Type)
}

func TestHubReplaysMissedEvents(t *testing.T) {
	stored := func(id string, evt domain.SettlementEvent) domain.StreamMessage {
		data, err := json.Marshal(evt)
		require.NoError(t, err)
		return domain.StreamMessage{ID: id, Payload: data}
	}
	bus := &chanBus{ch: make(chan []byte, 16), log: []domain.StreamMessage{
		stored("1-0", domain.SettlementEvent{Event: domain.EventTransfer, PortfolioID: 7}),
		stored("2-0", domain.SettlementEvent{Event: domain.EventTransfer, PortfolioID: 8}),
		stored("3-0", domain.SettlementEvent{Event: domain.EventOrderExecuted, PortfolioID: 7, OrderID: 4}),
	}}
	conn := dialHubWith(t, bus, "?portfolios=7&since=1-0")

	hello := readFrame(t, conn)
	require.Equal(t, "hello", hello.Type)
	assert.Contains(t, string(hello.Payload), `"portfolios":[7]`)

	got := readFrame(t, conn)
	assert.Equal(t, domain.EventOrderExecuted, got.Type)
	assert.Equal(t, "3-0", got.ID)

	done := readFrame(t, conn)
	require.Equal(t, "replayed", done.Type)
	assert.JSONEq(t, `{"last_id":"3-0","count":2}`, string(done.Payload))
}

func TestHubRejectsBadPortfolioQuery(t *testing.T) {
	hub := NewHub(&chanBus{ch: make(chan []byte)}, "serve", slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	hub.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws?portfolios=1,x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHubAnswersBadMessagesWithError(t *testing.T) {
	conn, _ := dialHub(t)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"dance"}`)))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
}

func TestClientFollows(t *testing.T) {
	c := &client{portfolios: map[int64]bool{}}
	assert.True(t, c.follows(4), "empty set follows everything")

	c.portfolios[3] = true
	assert.True(t, c.follows(3))
	assert.False(t, c.follows(4))
	assert.True(t, c.follows(0))
}
