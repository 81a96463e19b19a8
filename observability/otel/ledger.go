package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgerRecorder exports ledger operation outcomes through the global meter
// provider, next to the prometheus counters scraped from /metrics.
type LedgerRecorder struct {
	ops     metric.Int64Counter
	latency metric.Float64Histogram
}

// NewLedgerRecorder creates the instruments. Before Init the global provider
// is a no-op and recording costs nothing.
func NewLedgerRecorder() (*LedgerRecorder, error) {
	meter := otel.Meter(InstrumentationName)
	ops, err := meter.Int64Counter("mavuno.ledger.operations",
		metric.WithDescription("Ledger operations by module, op and outcome."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("mavuno.ledger.operation.duration",
		metric.WithDescription("Ledger operation latency."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &LedgerRecorder{ops: ops, latency: latency}, nil
}

// Observe matches the node's operation observer signature.
func (r *LedgerRecorder) Observe(module, op string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("module", module),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	r.ops.Add(ctx, 1, attrs)
	r.latency.Record(ctx, elapsed.Seconds(), attrs)
}
