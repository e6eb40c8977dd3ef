package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rpc/pkg/policy"
)

// RecordPolicyDecision annotates the span with the policy decision outcome.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Bool("policy.decision.allow", decision.Allow))
	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}
	if !decision.Allow {
		span.AddEvent("policy.denied")
	}
}
