// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector methods are safe to call on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	ReservationsTotal    *prometheus.CounterVec
	StatusTransitions    *prometheus.CounterVec
	NotificationsTotal   *prometheus.CounterVec
	DocumentsRendered    *prometheus.CounterVec
	AnalyticsDuration    *prometheus.HistogramVec
	AnalyticsRecordsSkip prometheus.Counter
	DBQueryDuration      *prometheus.HistogramVec
	DBQueryErrors        *prometheus.CounterVec
}

// NewCollector registers all collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		ReservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Slot reservation attempts by outcome (created, overbooked, conflict, invalid, error).",
		}, []string{"outcome"}),

		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Appointment status changes by target status.",
		}, []string{"status"}),

		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "messages_total",
			Help:      "Outbound notification attempts by template and outcome.",
		}, []string{"template", "outcome"}),

		DocumentsRendered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "rendered_total",
			Help:      "PDF documents rendered by kind and outcome.",
		}, []string{"kind", "outcome"}),

		AnalyticsDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "compute_duration_seconds",
			Help:      "Time spent aggregating a report.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"report"}),

		AnalyticsRecordsSkip: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "records_rejected_total",
			Help:      "Appointment records rejected at the analytics parse boundary.",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation"}),

		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database statements that returned an error.",
		}, []string{"operation"}),
	}
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, status).Inc()
	c.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

func (c *Collector) ObserveReservation(outcome string) {
	if c == nil {
		return
	}
	c.ReservationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveStatusTransition(status string) {
	if c == nil {
		return
	}
	c.StatusTransitions.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveNotification(template, outcome string) {
	if c == nil {
		return
	}
	c.NotificationsTotal.WithLabelValues(template, outcome).Inc()
}

func (c *Collector) ObserveDocument(kind, outcome string) {
	if c == nil {
		return
	}
	c.DocumentsRendered.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ObserveAnalytics(report string, d time.Duration, rejected int) {
	if c == nil {
		return
	}
	c.AnalyticsDuration.WithLabelValues(report).Observe(d.Seconds())
	if rejected > 0 {
		c.AnalyticsRecordsSkip.Add(float64(rejected))
	}
}

// ObserveQuery satisfies db.QueryObserver.
func (c *Collector) ObserveQuery(operation string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.DBQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		c.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
