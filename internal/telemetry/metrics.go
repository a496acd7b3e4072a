// Package telemetry records order execution metrics with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/alanyoungcy/everest/internal/service"

// Metrics holds the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	ordersCreated  metric.Int64Counter
	ordersExecuted metric.Int64Counter
	orderFailures  metric.Int64Counter
	transfers      metric.Int64Counter
	batchDuration  metric.Float64Histogram
	batchDue       metric.Int64Histogram
}

// NewMetrics uses the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider registers instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	if m.ordersCreated, err = meter.Int64Counter(
		"everest.orders.created",
		metric.WithDescription("Orders persisted, by direction"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: orders.created counter: %w", err)
	}
	if m.ordersExecuted, err = meter.Int64Counter(
		"everest.orders.executed",
		metric.WithDescription("Orders settled, by direction"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: orders.executed counter: %w", err)
	}
	if m.orderFailures, err = meter.Int64Counter(
		"everest.orders.failed",
		metric.WithDescription("Orders that failed to settle during a batch run"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: orders.failed counter: %w", err)
	}
	if m.transfers, err = meter.Int64Counter(
		"everest.transfers",
		metric.WithDescription("Cash movements between bank accounts and portfolios, by kind"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: transfers counter: %w", err)
	}
	if m.batchDuration, err = meter.Float64Histogram(
		"everest.settlement.duration",
		metric.WithDescription("Wall time of one due-order settlement run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: settlement.duration histogram: %w", err)
	}
	if m.batchDue, err = meter.Int64Histogram(
		"everest.settlement.due",
		metric.WithDescription("Orders found due per settlement run"),
	); err != nil {
		return nil, fmt.Errorf("telemetry: settlement.due histogram: %w", err)
	}
	return m, nil
}

func (m *Metrics) OrderCreated(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) OrderExecuted(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.ordersExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) Transfer(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// BatchCompleted records one settlement run.
func (m *Metrics) BatchCompleted(ctx context.Context, due, failed int, took time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.batchDuration.Record(ctx, took.Seconds(), attrs)
	m.batchDue.Record(ctx, int64(due), attrs)
	if failed > 0 {
		m.orderFailures.Add(ctx, int64(failed))
	}
}
