package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for leadmail
type Metrics struct {
	// Placeholder engine
	MigrationsTotal            *prometheus.CounterVec
	RendersTotal               prometheus.Counter
	PlaceholderRejectionsTotal *prometheus.CounterVec

	// Delivery
	MessagesSentTotal   prometheus.Counter
	MessagesFailedTotal *prometheus.CounterVec

	// Store gauges
	Templates prometheus.Gauge
	Leads     prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmail_migrations_total",
				Help: "Total number of placeholder containers normalized on read, by detected shape",
			},
			[]string{"shape"},
		),
		RendersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadmail_renders_total",
				Help: "Total number of rendered templates",
			},
		),
		PlaceholderRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmail_placeholder_rejections_total",
				Help: "Total number of rejected custom placeholder additions",
			},
			[]string{"reason"},
		),

		MessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leadmail_messages_sent_total",
				Help: "Total number of delivered messages",
			},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmail_messages_failed_total",
				Help: "Total number of messages that could not be delivered",
			},
			[]string{"error_type"},
		),

		Templates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmail_templates",
				Help: "Number of stored templates",
			},
		),
		Leads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmail_leads",
				Help: "Number of stored leads",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmail_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadmail_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadmail_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmail_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmail_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadmail_storage_used_bytes",
				Help: "Template database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MigrationsTotal,
		m.RendersTotal,
		m.PlaceholderRejectionsTotal,
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.Templates,
		m.Leads,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMigrations counts a normalized placeholder container
func IncMigrations(shape string) {
	m := Global()
	if m != nil {
		m.MigrationsTotal.WithLabelValues(shape).Inc()
	}
}

// IncRenders increments the render counter
func IncRenders() {
	m := Global()
	if m != nil {
		m.RendersTotal.Inc()
	}
}

// IncPlaceholderRejected counts a rejected placeholder addition.
// reason is one of empty, reserved, duplicate.
func IncPlaceholderRejected(reason string) {
	m := Global()
	if m != nil {
		m.PlaceholderRejectionsTotal.WithLabelValues(reason).Inc()
	}
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent() {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(errorType string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(errorType).Inc()
	}
}

// SetTemplates sets the stored template gauge
func SetTemplates(n int64) {
	m := Global()
	if m != nil {
		m.Templates.Set(float64(n))
	}
}

// SetLeads sets the stored lead gauge
func SetLeads(n int64) {
	m := Global()
	if m != nil {
		m.Leads.Set(float64(n))
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
