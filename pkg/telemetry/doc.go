// Package telemetry wires OpenTelemetry tracing and meters for the RPC server.
//
// It centralises trace provider setup and offers helpers that open a span per
// call, attach the resolved method, policy decision, and error kind, and
// record call counters and latency.
package telemetry
