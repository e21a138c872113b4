package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open-feature/flagwatch/pkg/watch"
)

const namespace = "flagwatch"

// Metrics collects service metrics on a dedicated registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	sessions      *prometheus.CounterVec
	sessionTicks  prometheus.Histogram
	notifications prometheus.Counter
	pings         prometheus.Counter
	evaluations   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_sessions_total",
			Help:      "Finished watch sessions by outcome.",
		}, []string{"outcome"}),
		sessionTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "watch_session_ticks",
			Help:      "Polling ticks completed by finished watch sessions.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800},
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_notifications_total",
			Help:      "Flag change notifications delivered to watch clients.",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_pings_total",
			Help:      "Keep-alive markers delivered to watch clients.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Single-shot flag evaluations by variation type and result.",
		}, []string{"type", "result"}),
	}
	m.registry.MustRegister(m.sessions, m.sessionTicks, m.notifications, m.pings, m.evaluations)
	return m
}

// TrackActiveSessions exposes count as the active session gauge.
func (m *Metrics) TrackActiveSessions(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watch_sessions_active",
		Help:      "Watch sessions currently open.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) SessionFinished(result watch.Result) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result.Outcome.String()).Inc()
	m.sessionTicks.Observe(float64(result.Ticks))
	m.notifications.Add(float64(result.Notifications))
	m.pings.Add(float64(result.Pings))
}

func (m *Metrics) Evaluated(valueType string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.evaluations.WithLabelValues(valueType, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
