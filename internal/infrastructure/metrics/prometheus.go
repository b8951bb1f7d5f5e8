package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports HTTP and engine metrics to Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpErrors   *prometheus.CounterVec

	resolveOps    prometheus.Counter
	checksAllowed prometheus.Counter
	checksDenied  prometheus.Counter
}

// NewPrometheusExporter creates a new Prometheus exporter backed by its own
// registry.
func NewPrometheusExporter() *PrometheusExporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusExporter{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kengen_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kengen_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kengen_http_errors_total",
			Help: "Total number of HTTP requests that ended in a server error",
		}, []string{"route", "method"}),
		resolveOps: factory.NewCounter(prometheus.CounterOpts{
			Name: "kengen_permission_resolutions_total",
			Help: "Total number of effective-permission resolutions",
		}),
		checksAllowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "kengen_permission_checks_allowed_total",
			Help: "Total number of permission checks that found the permission held",
		}),
		checksDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "kengen_permission_checks_denied_total",
			Help: "Total number of permission checks that did not find the permission",
		}),
	}
}

// RecordRequest records a finished HTTP request
func (e *PrometheusExporter) RecordRequest(route, method, status string) {
	e.httpRequests.WithLabelValues(route, method, status).Inc()
}

// RecordDuration records the duration of an HTTP request in seconds
func (e *PrometheusExporter) RecordDuration(route, method string, durationSeconds float64) {
	e.httpDuration.WithLabelValues(route, method).Observe(durationSeconds)
}

// RecordError records an HTTP request that ended in a server error
func (e *PrometheusExporter) RecordError(route, method string) {
	e.httpErrors.WithLabelValues(route, method).Inc()
}

// RecordResolution records one effective-permission resolution
func (e *PrometheusExporter) RecordResolution() {
	e.resolveOps.Inc()
}

// RecordCheck records the outcome of a permission check
func (e *PrometheusExporter) RecordCheck(allowed bool) {
	if allowed {
		e.checksAllowed.Inc()
	} else {
		e.checksDenied.Inc()
	}
}

// Handler returns the HTTP handler serving the metrics endpoint
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
