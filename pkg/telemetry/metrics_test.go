package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-rpc/pkg/policy"
)

func collectMetrics(t *testing.T, ctx context.Context, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordCall(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()

	RecordCall(ctx, CallMetrics{Method: "floor", Duration: 150 * time.Millisecond})
	RecordCall(ctx, CallMetrics{Method: "nroot", ErrorKind: "InvalidArgument", Duration: time.Millisecond})

	metrics := collectMetrics(t, ctx, reader)

	calls, ok := metrics["rpc.server.calls_total"]
	if !ok {
		t.Fatalf("missing rpc.server.calls_total metric")
	}
	callData, ok := calls.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for calls metric")
	}
	if len(callData.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(callData.DataPoints))
	}

	errs, ok := metrics["rpc.server.errors_total"]
	if !ok {
		t.Fatalf("missing rpc.server.errors_total metric")
	}
	errData := errs.Data.(metricdata.Sum[int64])
	if len(errData.DataPoints) != 1 || errData.DataPoints[0].Value != 1 {
		t.Fatalf("expected a single error datapoint with value 1, got %+v", errData.DataPoints)
	}
	if value, ok := errData.DataPoints[0].Attributes.Value(attribute.Key("rpc.error.kind")); !ok || value.AsString() != "InvalidArgument" {
		t.Fatalf("expected rpc.error.kind InvalidArgument, got %v", value)
	}

	hist, ok := metrics["rpc.server.duration_ms"]
	if !ok {
		t.Fatalf("missing rpc.server.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	var floorSum float64
	for _, dp := range histData.DataPoints {
		if value, ok := dp.Attributes.Value(attribute.Key("rpc.method")); ok && value.AsString() == "floor" {
			floorSum = dp.Sum
		}
	}
	if floorSum != 150 {
		t.Fatalf("expected floor latency sum 150, got %v", floorSum)
	}
}

func newRecordingTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestCallSpanLifecycle(t *testing.T) {
	recorder := newRecordingTracer(t)

	_, span := StartCallSpan(context.Background(), "conn-1")
	AnnotateCall(span, "sort", 1)
	RecordPolicyDecision(span, policy.Decision{Allow: false, Reason: "sort is disabled"})
	RecordCallError(span, "PermissionDenied", errors.New("sort is disabled"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "rpc.call" {
		t.Fatalf("unexpected span name %q", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", got.Status())
	}

	attrs := attribute.NewSet(got.Attributes()...)
	if value, ok := attrs.Value(attribute.Key("rpc.method")); !ok || value.AsString() != "sort" {
		t.Fatalf("expected rpc.method sort, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("rpc.conn_id")); !ok || value.AsString() != "conn-1" {
		t.Fatalf("expected rpc.conn_id conn-1, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("policy.decision.allow")); !ok || value.AsBool() {
		t.Fatalf("expected policy.decision.allow false")
	}

	var denied bool
	for _, event := range got.Events() {
		if event.Name == "policy.denied" {
			denied = true
		}
	}
	if !denied {
		t.Fatalf("expected policy.denied event")
	}
}

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
