package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	replaysTotal    *prometheus.CounterVec
	authFailures    prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// newMetricsRegistry registers the gateway collectors on r, creating a
// private registry when r is nil.
func newMetricsRegistry(r *prometheus.Registry) *metricsRegistry {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diaspore_gateway_requests_total",
		Help: "Gateway requests by route and response status",
	}, []string{"route", "status"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diaspore_gateway_idempotent_replays_total",
		Help: "Responses served from the idempotency store",
	}, []string{"route"})

	auth := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diaspore_gateway_auth_failures_total",
		Help: "Requests rejected by signature verification",
	})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diaspore_gateway_request_duration_seconds",
		Help:    "Gateway request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	if r == nil {
		r = prometheus.NewRegistry()
	}
	r.MustRegister(requests, replays, auth, duration)

	return &metricsRegistry{
		registry:        r,
		requestsTotal:   requests,
		replaysTotal:    replays,
		authFailures:    auth,
		requestDuration: duration,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incRequest(route, status string) {
	m.requestsTotal.WithLabelValues(route, status).Inc()
}

func (m *metricsRegistry) incReplay(route string) {
	m.replaysTotal.WithLabelValues(route).Inc()
}

func (m *metricsRegistry) observe(route string, seconds float64) {
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}
