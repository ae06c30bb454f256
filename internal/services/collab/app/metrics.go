package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "drawroom"

const (
	sessionKindCollab = "collab"
	sessionKindReplay = "replay"

	frameAccepted  = "accepted"
	frameDiscarded = "discarded"
	frameOversized = "oversized"
	frameMalformed = "malformed"
)

// metrics holds the collab collectors. Each server owns its own registry.
type metrics struct {
	registry *prometheus.Registry

	activeSessions  *prometheus.GaugeVec
	admissions      *prometheus.CounterVec
	frames          *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	logFailures     *prometheus.CounterVec
	broadcastErrors prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of open websocket sessions.",
		}, []string{"kind"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "admissions_total",
			Help:      "Session admission decisions.",
		}, []string{"kind", "outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Inbound websocket frames by event type and outcome.",
		}, []string{"kind", "eventtype", "outcome"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconciliations_total",
			Help:      "save_room reconciliation outcomes.",
		}, []string{"outcome"}),
		logFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "log_write_failures_total",
			Help:      "Event log appends that failed.",
		}, []string{"eventtype"}),
		broadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_failures_total",
			Help:      "Notifications the broadcaster failed to send.",
		}),
	}
	m.registry.MustRegister(
		m.activeSessions,
		m.admissions,
		m.frames,
		m.reconciliations,
		m.logFailures,
		m.broadcastErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) frame(kind, eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.frames.WithLabelValues(kind, eventType, outcome).Inc()
}
