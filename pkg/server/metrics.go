package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the websocket server.
// A nil *Metrics records nothing.
type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionsEvicted prometheus.Counter
	framesReceived  *prometheus.CounterVec
	protocolErrors  prometheus.Counter
	handlerPanics   prometheus.Counter
	paints          *prometheus.CounterVec
	fallingItems    *prometheus.CounterVec
	framesBroadcast *prometheus.CounterVec
}

// NewMetrics creates and registers server metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "pixeltree"
	}
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected participants.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions registered.",
		}),
		sessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions disconnected because their outbound queue was full.",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded client frames by type.",
		}, []string{"type"}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Client frames that could not be decoded.",
		}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Panics recovered while handling client frames.",
		}),
		paints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paints_total",
			Help:      "Paint requests by result.",
		}, []string{"result"}),
		fallingItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "falling_items_total",
			Help:      "Falling item submissions by kind and result.",
		}, []string{"kind", "result"}),
		framesBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_enqueued_total",
			Help:      "Frames enqueued to sessions by event type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) sessionEvicted() {
	if m == nil {
		return
	}
	m.sessionsEvicted.Inc()
}

func (m *Metrics) frameReceived(typ string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) handlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

func (m *Metrics) paint(result string) {
	if m == nil {
		return
	}
	m.paints.WithLabelValues(result).Inc()
}

func (m *Metrics) fallingItem(kind, result string) {
	if m == nil {
		return
	}
	m.fallingItems.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) broadcast(typ string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.framesBroadcast.WithLabelValues(typ).Add(float64(n))
}
