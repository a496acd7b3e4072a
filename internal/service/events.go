package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/pkg/id"
)

// publish fans an event out to live subscribers and appends it to the
// durable stream. Failures are logged and never reach the caller.
func (e *Engine) publish(ctx context.Context, evt domain.SettlementEvent) {
	if e.bus == nil {
		return
	}
	evt.ID = id.NewAt(evt.At)

	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: marshal event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
		e.logger.WarnContext(ctx, "engine: stream append failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) orderCommitted(ctx context.Context, o domain.Order) {
	e.metrics.OrderCreated(ctx, string(o.Direction))

	now := e.now().UTC()
	amount := o.NetValue
	base := domain.SettlementEvent{
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		ProductID:   o.ProductID,
		Direction:   o.Direction,
		Quotes:      o.Quotes,
		Amount:      &amount,
		At:          now,
	}

	created := base
	created.Event = domain.EventOrderCreated
	created.Detail = map[string]any{"liquidate_at": o.LiquidateAt.Format(domain.DateLayout)}
	e.publish(ctx, created)

	if o.Executed() {
		e.recordExecution(ctx, o, base)
	}

	e.logger.InfoContext(ctx, "engine: order committed",
		slog.Int64("order_id", o.ID),
		slog.Int64("portfolio_id", o.PortfolioID),
		slog.Int64("product_id", o.ProductID),
		slog.String("direction", string(o.Direction)),
		slog.Int("quotes", o.Quotes),
		slog.String("net_value", o.NetValue.String()),
		slog.Bool("executed", o.Executed()),
	)
}

// orderSettled handles an order settled by ExecuteBuyOrder/ExecuteSellOrder.
func (e *Engine) orderSettled(ctx context.Context, o domain.Order) {
	amount := o.NetValue
	e.recordExecution(ctx, o, domain.SettlementEvent{
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		ProductID:   o.ProductID,
		Direction:   o.Direction,
		Quotes:      o.Quotes,
		Amount:      &amount,
		At:          e.now().UTC(),
	})
	e.logger.InfoContext(ctx, "engine: order settled",
		slog.Int64("order_id", o.ID),
		slog.String("direction", string(o.Direction)),
		slog.String("net_value", o.NetValue.String()),
	)
}

func (e *Engine) recordExecution(ctx context.Context, o domain.Order, base domain.SettlementEvent) {
	e.metrics.OrderExecuted(ctx, string(o.Direction))

	executed := base
	executed.Event = domain.EventOrderExecuted
	e.publish(ctx, executed)

	e.auditLog(ctx, domain.EventOrderExecuted, map[string]any{
		"order_id":     o.ID,
		"portfolio_id": o.PortfolioID,
		"product_id":   o.ProductID,
		"direction":    string(o.Direction),
		"quotes":       o.Quotes,
		"net_value":    o.NetValue.String(),
	})
}

func (e *Engine) transferCommitted(ctx context.Context, kind string, amount decimal.Decimal, customerID, portfolioID int64) {
	e.metrics.Transfer(ctx, kind)

	e.publish(ctx, domain.SettlementEvent{
		Event:       domain.EventTransfer,
		CustomerID:  customerID,
		PortfolioID: portfolioID,
		Amount:      &amount,
		Detail:      map[string]any{"kind": kind},
		At:          e.now().UTC(),
	})
	e.auditLog(ctx, domain.EventTransfer, map[string]any{
		"kind":         kind,
		"customer_id":  customerID,
		"portfolio_id": portfolioID,
		"amount":       amount.String(),
	})

	e.logger.InfoContext(ctx, "engine: transfer committed",
		slog.String("kind", kind),
		slog.Int64("customer_id", customerID),
		slog.Int64("portfolio_id", portfolioID),
		slog.String("amount", amount.String()),
	)
}

func (e *Engine) batchCompleted(ctx context.Context, r BatchReport) {
	e.metrics.BatchCompleted(ctx, r.Due, r.Failed(), r.Duration)

	detail := map[string]any{
		"run_id":   r.RunID,
		"as_of":    r.AsOf.Format(domain.DateLayout),
		"due":      r.Due,
		"executed": r.Executed,
		"skipped":  r.Skipped,
		"failed":   r.Failed(),
	}
	e.publish(ctx, domain.SettlementEvent{
		Event:  domain.EventBatchCompleted,
		Detail: detail,
		At:     e.now().UTC(),
	})
	e.auditLog(ctx, domain.EventBatchCompleted, detail)

	level := slog.LevelInfo
	if r.Failed() > 0 {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "engine: settlement run completed",
		slog.String("run_id", r.RunID),
		slog.Int("due", r.Due),
		slog.Int("executed", r.Executed),
		slog.Int("skipped", r.Skipped),
		slog.Int("failed", r.Failed()),
		slog.Duration("took", r.Duration),
	)
}
