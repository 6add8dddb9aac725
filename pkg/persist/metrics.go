package persist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records checkpoint outcomes. A nil *Metrics records nothing.
type Metrics struct {
	duration    prometheus.Histogram
	failures    prometheus.Counter
	lastSuccess prometheus.Gauge
	bytes       prometheus.Gauge
}

// NewMetrics registers checkpoint metrics with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "pixeltree"
	}
	factory := promauto.With(reg)
	return &Metrics{
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "checkpoint_duration_seconds",
			Help:      "Duration of successful checkpoints.",
			Buckets:   prometheus.DefBuckets,
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "checkpoint_failures_total",
			Help:      "Checkpoints that failed to reach the primary store.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful checkpoint.",
		}),
		bytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "snapshot_bytes",
			Help:      "Size of the last written snapshot.",
		}),
	}
}

func (m *Metrics) succeeded(d time.Duration, size int, at time.Time) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
	m.lastSuccess.Set(float64(at.Unix()))
	m.bytes.Set(float64(size))
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
