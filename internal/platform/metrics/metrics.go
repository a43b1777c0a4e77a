package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream manager.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	errorsTotal    prometheus.Counter
	statusPolls    prometheus.Counter
	pollErrors     prometheus.Counter
	previewFetches *prometheus.CounterVec
	frameMessages  *prometheus.CounterVec
	activeStreams  prometheus.Gauge
}

// New creates and registers Prometheus metrics for the stream manager.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsm_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsm_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		statusPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsm_status_polls_total",
			Help: "Total number of stream status queries issued to the fabric",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsm_status_poll_errors_total",
			Help: "Total number of stream status queries that failed",
		}),
		previewFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsm_preview_fetches_total",
			Help: "Preview frame fetches by result",
		}, []string{"result"}),
		frameMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lsm_frame_messages_total",
			Help: "Messages received from embedded frames by operation",
		}, []string{"operation"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lsm_active_streams",
			Help: "Number of streams whose last observed status is active",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.statusPolls,
		m.pollErrors,
		m.previewFetches,
		m.frameMessages,
		m.activeStreams,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveStatusPoll records one status query and whether it failed.
func (m *Metrics) ObserveStatusPoll(err error) {
	m.statusPolls.Inc()
	if err != nil {
		m.pollErrors.Inc()
	}
}

// ObservePreviewFetch records a preview fetch outcome.
func (m *Metrics) ObservePreviewFetch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.previewFetches.WithLabelValues(result).Inc()
}

// IncFrameMessages counts an inbound frame message. Generic requests use
// the operation label "request".
func (m *Metrics) IncFrameMessages(operation string) {
	if operation == "" {
		operation = "request"
	}
	m.frameMessages.WithLabelValues(operation).Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
