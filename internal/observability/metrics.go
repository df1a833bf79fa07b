package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Validation outcomes recorded by RecordValidation.
const (
	OutcomeGranted = "granted"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	issued       *prometheus.CounterVec
	validations  *prometheus.CounterVec
	grantsSwept  prometheus.Counter
	requestCount *prometheus.CounterVec
	requestTime  *prometheus.HistogramVec
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condo",
			Name:      "access_tokens_issued_total",
			Help:      "Access tokens issued.",
		}, []string{"tenant_id"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condo",
			Name:      "access_token_validations_total",
			Help:      "Access token validations by outcome.",
		}, []string{"outcome"}),
		grantsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "condo",
			Name:      "grants_swept_total",
			Help:      "Expired grants removed by the sweeper.",
		}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "condo",
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "condo",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.issued,
		m.validations,
		m.grantsSwept,
		m.requestCount,
		m.requestTime,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIssued counts an issued token.
func (m *Metrics) RecordIssued(tenantID string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(tenantID).Inc()
}

// RecordValidation counts a validation attempt; outcome is OutcomeGranted or an error code.
func (m *Metrics) RecordValidation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

// RecordGrantsSwept counts grants removed by one sweep.
func (m *Metrics) RecordGrantsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.grantsSwept.Add(float64(n))
}

// RecordRequest observes one HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(method, route).Observe(duration.Seconds())
}
