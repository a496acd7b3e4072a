package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Settlement event kinds.
const (
	EventOrderCreated   = "order_created"
	EventOrderExecuted  = "order_executed"
	EventTransfer       = "transfer"
	EventBatchCompleted = "batch_completed"
)

// SettlementEvent is published after a unit of work commits.
type SettlementEvent struct {
	ID          string           `json:"id"`
	Event       string           `json:"event"`
	OrderID     int64            `json:"order_id,omitempty"`
	PortfolioID int64            `json:"portfolio_id,omitempty"`
	ProductID   int64            `json:"product_id,omitempty"`
	CustomerID  int64            `json:"customer_id,omitempty"`
	Direction   Direction        `json:"direction,omitempty"`
	Quotes      int              `json:"quotes,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Detail      map[string]any   `json:"detail,omitempty"`
	At          time.Time        `json:"at"`
}

// Bus channel and stream names.
const (
	ChannelSettlements = "settlements"
	StreamSettlements  = "settlements:log"
)

// StreamMessage is one entry of a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventLog reads a durable stream in order, starting after lastID ("0" for
// the beginning).
type EventLog interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// EventBus fans settlement events out live over pub/sub and appends them to
// a durable stream.
type EventBus interface {
	EventLog
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
