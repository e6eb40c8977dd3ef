package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// Metrics holds all Prometheus metrics for the RPC server. A nil *Metrics
// records nothing.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callLatency  *prometheus.HistogramVec
	callErrors   *prometheus.CounterVec
	policyDenied *prometheus.CounterVec

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter

	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_calls_total",
				Help: "Total number of RPC calls by method and status",
			},
			[]string{"method", "status"},
		),

		callLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpc_call_duration_seconds",
				Help:    "RPC call latency in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method"},
		),

		callErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_call_errors_total",
				Help: "Total number of failed RPC calls by error kind",
			},
			[]string{"method", "error_kind"},
		),

		policyDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_policy_denied_total",
				Help: "Total number of calls rejected by the policy gate",
			},
			[]string{"method"},
		),

		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpc_connections_active",
				Help: "Number of connections currently being served",
			},
		),

		connectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rpc_connections_total",
				Help: "Total number of accepted connections",
			},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.callsTotal,
		m.callLatency,
		m.callErrors,
		m.policyDenied,
		m.connectionsActive,
		m.connectionsTotal,
		m.configReloads,
	)

	return m
}

// RecordCall records a completed call. kind is empty on success.
func (m *Metrics) RecordCall(method string, kind domain.ErrorKind, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if kind != "" {
		status = "error"
		m.callErrors.WithLabelValues(method, string(kind)).Inc()
		if kind == domain.KindPermissionDenied {
			m.policyDenied.WithLabelValues(method).Inc()
		}
	}
	m.callsTotal.WithLabelValues(method, status).Inc()
	m.callLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records the end of a connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// RecordConfigReload records a configuration reload attempt.
func (m *Metrics) RecordConfigReload(status string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsHandler is implemented by metric sets that serve a Prometheus endpoint.
type MetricsHandler interface {
	Handler() http.Handler
}

// NewMetricsServer builds an HTTP server exposing m at path and a liveness
// probe at /healthz.
func NewMetricsServer(addr, path string, m MetricsHandler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, otelhttp.NewHandler(m.Handler(), "metrics"))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
