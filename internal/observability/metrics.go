// Package observability exposes Prometheus metrics for the honeypot and the
// analysis pipeline on the operator server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry and all instrument handles.
type Metrics struct {
	registry *prometheus.Registry

	uptime           prometheus.Gauge
	honeypotRequests *prometheus.CounterVec
	honeypotDuration *prometheus.HistogramVec

	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	storeFailures    *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	queueDropped     prometheus.Counter

	tokenTriggers *prometheus.CounterVec
	sessionsEnded prometheus.Counter
	alerts        *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snare_uptime_seconds",
		Help: "Time since the process started",
	})

	m.honeypotRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_honeypot_requests_total",
			Help: "Requests answered by the honeypot surface",
		},
		[]string{"method", "api_key_status", "status"},
	)

	m.honeypotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snare_honeypot_request_duration_seconds",
			Help:    "Honeypot response latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "status"},
	)

	m.analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_analyses_total",
			Help: "Completed request analyses by resulting classification",
		},
		[]string{"classification"},
	)

	m.analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snare_analysis_duration_seconds",
		Help:    "Time spent analyzing one request",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	m.storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_store_failures_total",
			Help: "Persistent-store operations that failed and were skipped",
		},
		[]string{"operation"},
	)

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snare_analysis_queue_depth",
		Help: "Requests waiting for analysis",
	})

	m.queueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snare_analysis_dropped_total",
		Help: "Requests evicted from a full analysis queue",
	})

	m.tokenTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_honey_token_triggers_total",
			Help: "Honey token observations by token type",
		},
		[]string{"token_type"},
	)

	m.sessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snare_sessions_ended_total",
		Help: "Sessions closed by the idle sweeper",
	})

	m.alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_alerts_total",
			Help: "Webhook alerts by kind and delivery status",
		},
		[]string{"kind", "status"},
	)

	m.registry.MustRegister(
		m.uptime,
		m.honeypotRequests,
		m.honeypotDuration,
		m.analyses,
		m.analysisDuration,
		m.storeFailures,
		m.queueDepth,
		m.queueDropped,
		m.tokenTriggers,
		m.sessionsEnded,
		m.alerts,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetUptime refreshes the uptime gauge.
func (m *Metrics) SetUptime(start time.Time) {
	m.uptime.Set(time.Since(start).Seconds())
}

// RecordHoneypotRequest records one answered honeypot request.
func (m *Metrics) RecordHoneypotRequest(method, apiKeyStatus string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.honeypotRequests.WithLabelValues(method, apiKeyStatus, code).Inc()
	m.honeypotDuration.WithLabelValues(method, code).Observe(duration.Seconds())
}

// RecordAnalysis records one completed analysis.
func (m *Metrics) RecordAnalysis(classification string, duration time.Duration) {
	m.analyses.WithLabelValues(classification).Inc()
	m.analysisDuration.Observe(duration.Seconds())
}

// RecordStoreFailure counts a skipped store operation.
func (m *Metrics) RecordStoreFailure(operation string) {
	m.storeFailures.WithLabelValues(operation).Inc()
}

// SetQueueDepth reports the analysis backlog.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// RecordQueueDrop counts one evicted request.
func (m *Metrics) RecordQueueDrop() {
	m.queueDropped.Inc()
}

// RecordTokenTrigger counts a honey token observation.
func (m *Metrics) RecordTokenTrigger(tokenType string) {
	m.tokenTriggers.WithLabelValues(tokenType).Inc()
}

// RecordSessionsEnded counts sessions closed by the sweeper.
func (m *Metrics) RecordSessionsEnded(n int) {
	m.sessionsEnded.Add(float64(n))
}

// RecordAlert counts a webhook alert delivery attempt.
func (m *Metrics) RecordAlert(kind, status string) {
	m.alerts.WithLabelValues(kind, status).Inc()
}
