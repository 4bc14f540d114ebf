// Package metrics holds the Prometheus collectors for provider calls and HTTP traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	providerCalls       *prometheus.CounterVec
	providerDuration    *prometheus.HistogramVec
	providerCost        *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of outbound provider calls",
			},
			[]string{"endpoint", "status"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_duration_seconds",
				Help:    "Duration of outbound provider calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		providerCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_estimated_cost_total",
				Help: "Estimated provider cost accumulated per endpoint",
			},
			[]string{"endpoint"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	reg.MustRegister(
		m.providerCalls,
		m.providerDuration,
		m.providerCost,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveProviderCall records one outbound provider call.
func (m *Metrics) ObserveProviderCall(endpoint, status string, d time.Duration, cost float64) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(endpoint, status).Inc()
	m.providerDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	if cost > 0 {
		m.providerCost.WithLabelValues(endpoint).Add(cost)
	}
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
