// Package metrics exposes the bot's Prometheus counters. All methods are
// safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "weather_bot"

// Route labels for inbound events.
const (
	RouteCommand  = "command"
	RouteLocation = "location"
	RouteAnswer   = "answer"
	RouteWelcome  = "welcome"
)

// Failure kinds.
const (
	FailureValidation = "validation"
	FailureGateway    = "gateway"
	FailureRender     = "render"
	FailureStorage    = "storage"
	FailureSend       = "send"
)

// Alert check results.
const (
	AlertNotified  = "notified"
	AlertUnchanged = "unchanged"
	AlertSkipped   = "skipped"
	AlertFailed    = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	alertChecks  *prometheus.CounterVec
	inboxDropped prometheus.Counter
	tickDuration prometheus.Histogram
}

// New builds a Metrics on its own registry, with Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by dispatch route.",
		}, []string{"route"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Handled failures by kind.",
		}, []string{"kind"}),
		alertChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_checks_total",
			Help:      "Alert registrations evaluated by result.",
		}, []string{"result"}),
		inboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_dropped_total",
			Help:      "Inbound events rejected because a user's queue was full.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_tick_duration_seconds",
			Help:      "Duration of a full alert monitor pass.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.failures, m.alertChecks, m.inboxDropped, m.tickDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterSessionGauge exposes the number of open dialogs.
func (m *Metrics) RegisterSessionGauge(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_sessions",
		Help:      "Users currently inside a dialog.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) RecordRoute(route string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordAlertCheck(result string) {
	if m == nil {
		return
	}
	m.alertChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordInboxDropped() {
	if m == nil {
		return
	}
	m.inboxDropped.Inc()
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
