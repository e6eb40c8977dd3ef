package chat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Eviction and drop reasons used as metric labels.
const (
	ReasonMalformed  = "malformed"
	ReasonSendFailed = "send_failed"
)

// Metrics holds the relay's Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	framesReceived prometheus.Counter
	framesRelayed  prometheus.Counter
	framesDropped  *prometheus.CounterVec
	peersActive    prometheus.Gauge
	peerEvictions  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates relay metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_received_total",
			Help: "Total number of datagrams received by the relay",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_relayed_total",
			Help: "Total number of frames delivered to peers",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_dropped_total",
			Help: "Total number of received frames not relayed, by reason",
		}, []string{"reason"}),
		peersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_peers_active",
			Help: "Number of peers currently known to the relay",
		}),
		peerEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_peer_evictions_total",
			Help: "Total number of peers dropped by the relay, by reason",
		}, []string{"reason"}),
		registry: registry,
	}

	registry.MustRegister(m.framesReceived, m.framesRelayed, m.framesDropped, m.peersActive, m.peerEvictions)
	return m
}

func (m *Metrics) received() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) relayed() {
	if m == nil {
		return
	}
	m.framesRelayed.Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) peers(n int) {
	if m == nil {
		return
	}
	m.peersActive.Set(float64(n))
}

func (m *Metrics) evicted(reason string) {
	if m == nil {
		return
	}
	m.peerEvictions.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
