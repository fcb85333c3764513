package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for the console.
type Metrics struct {
	registry              *prometheus.Registry
	checksTotal           *prometheus.CounterVec
	checkDurationSeconds  prometheus.Histogram
	supersededChecksTotal prometheus.Counter
	lastSuccessfulCheck   prometheus.Gauge
	notificationsTotal    *prometheus.CounterVec
	pageRendersTotal      *prometheus.CounterVec
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_companion_checks_total",
			Help: "Applied backend health checks by outcome.",
		}, []string{"outcome"}),
		checkDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safety_companion_check_duration_seconds",
			Help:    "Duration of applied backend health checks in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		supersededChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safety_companion_superseded_checks_total",
			Help: "Health checks whose result was discarded because a newer check was triggered.",
		}),
		lastSuccessfulCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safety_companion_last_successful_check_timestamp",
			Help: "Unix timestamp of the last successful health check.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_companion_notifications_total",
			Help: "Health change notifications by outcome.",
		}, []string{"outcome"}),
		pageRendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_companion_page_renders_total",
			Help: "Rendered pages by view.",
		}, []string{"view"}),
	}

	registry.MustRegister(
		m.checksTotal,
		m.checkDurationSeconds,
		m.supersededChecksTotal,
		m.lastSuccessfulCheck,
		m.notificationsTotal,
		m.pageRendersTotal,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCheck records an applied check outcome and its duration.
func (m *Metrics) ObserveCheck(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(outcome).Inc()
	m.checkDurationSeconds.Observe(duration.Seconds())
}

// IncSupersededChecks increments the discarded check counter.
func (m *Metrics) IncSupersededChecks() {
	if m == nil {
		return
	}
	m.supersededChecksTotal.Inc()
}

// SetLastSuccessfulCheckTimestamp sets the last successful check time.
func (m *Metrics) SetLastSuccessfulCheckTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCheck.Set(float64(t.Unix()))
}

// IncNotifications increments the notification counter for the given outcome.
func (m *Metrics) IncNotifications(outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

// IncPageRenders increments the render counter for a view.
func (m *Metrics) IncPageRenders(view string) {
	if m == nil {
		return
	}
	m.pageRendersTotal.WithLabelValues(view).Inc()
}
