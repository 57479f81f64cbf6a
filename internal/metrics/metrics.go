// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync engine collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	runsSkipped      prometheus.Counter
	customerOutcomes *prometheus.CounterVec
	contactOutcomes  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactsync",
			Name:      "runs_total",
			Help:      "Sync runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contactsync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a sync run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		runsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contactsync",
			Name:      "runs_skipped_total",
			Help:      "Triggers ignored because a run was in flight.",
		}),
		customerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactsync",
			Name:      "customer_outcomes_total",
			Help:      "Per-customer outcome of each run.",
		}, []string{"outcome"}),
		contactOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactsync",
			Name:      "contacts_total",
			Help:      "Contacts moved out of pending, by action.",
		}, []string{"action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contactsync",
			Name:      "notifications_total",
			Help:      "Operator notifications sent, by error kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.runsSkipped, m.customerOutcomes, m.contactOutcomes, m.notifications,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) RunSkipped() {
	if m == nil {
		return
	}
	m.runsSkipped.Inc()
}

func (m *Metrics) CustomerOutcome(outcome string) {
	if m == nil {
		return
	}
	m.customerOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ContactOutcome(action string) {
	if m == nil {
		return
	}
	m.contactOutcomes.WithLabelValues(action).Inc()
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}
