package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/rtdbridge/internal/feed"
)

const namespace = "rtdbridge"

// Metrics records bridge activity. A nil *Metrics is a valid no-op.
type Metrics struct {
	connectionsOpen   prometheus.Gauge
	connectionsTotal  prometheus.Counter
	sessionEvents     *prometheus.CounterVec
	inboundFrames     *prometheus.CounterVec
	unknownMessages   prometheus.Counter
	routingMisses     prometheus.Counter
	reportsSent       prometheus.Counter
	reportRows        prometheus.Histogram
	errorsSent        *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New constructs and registers bridge metrics with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_open",
			Help:      "Consumer connections currently open.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Consumer connections opened since start.",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Feed session events by kind.",
		}, []string{"kind"}),
		inboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "inbound_frames_total",
			Help:      "Decoded inbound frames by type.",
		}, []string{"type"}),
		unknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "unknown_messages_total",
			Help:      "Inbound binary frames that were not a known request.",
		}),
		routingMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "routing_misses_total",
			Help:      "Session events dropped because the connection was gone.",
		}),
		reportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reports_sent_total",
			Help:      "Data reports delivered to consumers.",
		}),
		reportRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "report_rows",
			Help:      "Rows per delivered data report.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		errorsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "error_reports_total",
			Help:      "Error reports sent to consumers by code.",
		}, []string{"code"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts by result.",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.connectionsOpen,
		m.connectionsTotal,
		m.sessionEvents,
		m.inboundFrames,
		m.unknownMessages,
		m.routingMisses,
		m.reportsSent,
		m.reportRows,
		m.errorsSent,
		m.reconnectAttempts,
	)
	return m
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ConnectionOpened implements registry.Recorder.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpen.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed implements registry.Recorder.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
}

// InboundFrame implements registry.Recorder.
func (m *Metrics) InboundFrame(kind string) {
	if m == nil {
		return
	}
	m.inboundFrames.WithLabelValues(kind).Inc()
}

// UnknownMessage implements registry.Recorder.
func (m *Metrics) UnknownMessage() {
	if m == nil {
		return
	}
	m.unknownMessages.Inc()
}

// RoutingMiss implements registry.Recorder.
func (m *Metrics) RoutingMiss() {
	if m == nil {
		return
	}
	m.routingMisses.Inc()
}

// ReportSent implements registry.Recorder.
func (m *Metrics) ReportSent(rows int) {
	if m == nil {
		return
	}
	m.reportsSent.Inc()
	m.reportRows.Observe(float64(rows))
}

// ErrorSent implements registry.Recorder.
func (m *Metrics) ErrorSent(code string) {
	if m == nil {
		return
	}
	m.errorsSent.WithLabelValues(code).Inc()
}

// ReconnectAttempt implements registry.Recorder.
func (m *Metrics) ReconnectAttempt(result string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(result).Inc()
}

// SessionEvent implements registry.Observer.
func (m *Metrics) SessionEvent(ev feed.Event, _ string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(ev.Kind.String()).Inc()
}
