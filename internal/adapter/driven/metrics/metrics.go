// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"github.com/AxelAdjami/Projet-SIR/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "signal"

// OtherKind is the kind label for message types outside the signaling
// vocabulary, so clients cannot grow the label set.
const OtherKind = "other"

// Metrics implements port.RelayMetrics. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	relayedTotal      *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections that were assigned an identity.",
		}),

		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of identities currently in the routing table.",
		}),

		relayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Total signaling messages handed to their target, by type.",
		}, []string{"kind"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total signaling messages dropped without delivery, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.connectionsTotal,
		m.activeConnections,
		m.relayedTotal,
		m.droppedTotal,
	)

	return m
}

func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) MessageRelayed(kind domain.Kind) {
	if m == nil {
		return
	}
	label := OtherKind
	if kind.Known() {
		label = string(kind)
	}
	m.relayedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}
