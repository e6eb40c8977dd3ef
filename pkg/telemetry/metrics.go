package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	callCounter      metric.Int64Counter
	callErrorCounter metric.Int64Counter
	callLatency      metric.Float64Histogram
)

// CallMetrics captures the fields needed to record one RPC call.
type CallMetrics struct {
	Method    string
	ErrorKind string // empty on success
	Duration  time.Duration
}

// RecordCall emits counters and a latency histogram for a completed call
// against the global MeterProvider.
func RecordCall(ctx context.Context, m CallMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "ok"
	if m.ErrorKind != "" {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", m.Method),
		attribute.String("rpc.outcome", outcome),
	)

	callCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		callLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.ErrorKind != "" {
		callErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rpc.method", m.Method),
			attribute.String("rpc.error.kind", m.ErrorKind),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(TracerName)

		callCounter, metricsInitErr = meter.Int64Counter(
			"rpc.server.calls_total",
			metric.WithDescription("RPC calls partitioned by method and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		callErrorCounter, metricsInitErr = meter.Int64Counter(
			"rpc.server.errors_total",
			metric.WithDescription("Failed RPC calls partitioned by error kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		callLatency, metricsInitErr = meter.Float64Histogram(
			"rpc.server.duration_ms",
			metric.WithDescription("Observed RPC call latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
