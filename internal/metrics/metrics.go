// Package metrics holds the Prometheus collectors for the relay. Each
// Metrics value owns a private registry so tests and multiple servers
// in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics records relay flow, provider calls and deliveries. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	flow             *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	deliveries       *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		flow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_flow_total",
			Help:      "Relay flows by terminal phase and outcome.",
		}, []string{"phase", "outcome"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Calls to the provider by operation and outcome.",
		}, []string{"op", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Token deliveries by mode.",
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		m.flow,
		m.providerRequests,
		m.providerDuration,
		m.deliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Flow counts a relay flow that ended in phase.
func (m *Metrics) Flow(phase, outcome string) {
	if m == nil {
		return
	}

	m.flow.WithLabelValues(phase, outcome).Inc()
}

// ProviderCall records one provider call.
func (m *Metrics) ProviderCall(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}

	m.providerRequests.WithLabelValues(op, outcome).Inc()
	m.providerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Delivery counts one token delivery.
func (m *Metrics) Delivery(mode string) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(mode).Inc()
}
