package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus collectors of the risk service. Each Registry
// owns its own prometheus.Registry so tests can build as many as they need.
type Registry struct {
	registry *prometheus.Registry

	CalculationDuration *prometheus.HistogramVec
	GateDecisions       *prometheus.CounterVec
	GateViolations      *prometheus.CounterVec
	DependencyFailures  *prometheus.CounterVec
	BreakerState        *prometheus.GaugeVec
	CacheLookups        *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// NewRegistry creates and registers every collector
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		CalculationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risk_calculation_duration_seconds",
				Help:    "Duration of risk calculations including data fetches",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation", "result"},
		),

		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_gate_decisions_total",
				Help: "Pre-trade gate decisions by outcome",
			},
			[]string{"decision"},
		),

		GateViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_gate_violations_total",
				Help: "Limit violations reported by the pre-trade gate",
			},
			[]string{"limit_type"},
		),

		DependencyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_dependency_failures_total",
				Help: "Failed collaborator calls by dependency and error code",
			},
			[]string{"dependency", "code"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "risk_breaker_state",
				Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
			},
			[]string{"dependency"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_cache_lookups_total",
				Help: "History cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "risk_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.CalculationDuration,
		r.GateDecisions,
		r.GateViolations,
		r.DependencyFailures,
		r.BreakerState,
		r.CacheLookups,
		r.HTTPRequests,
		r.HTTPDuration,
	)

	return r
}

// Handler exposes the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer returns the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveCalculation records a calculation timed by the caller
func (r *Registry) ObserveCalculation(operation, result string, d time.Duration) {
	r.CalculationDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

// RecordGateDecision counts one gate decision and its violations
func (r *Registry) RecordGateDecision(allowed bool, violationTypes []string) {
	decision := "rejected"
	if allowed {
		decision = "allowed"
	}
	r.GateDecisions.WithLabelValues(decision).Inc()
	for _, vt := range violationTypes {
		r.GateViolations.WithLabelValues(vt).Inc()
	}
}

// RecordDependencyFailure counts a failed collaborator call
func (r *Registry) RecordDependencyFailure(dependency, code string) {
	r.DependencyFailures.WithLabelValues(dependency, code).Inc()
}

// SetBreakerState records a breaker transition
func (r *Registry) SetBreakerState(dependency string, state int) {
	r.BreakerState.WithLabelValues(dependency).Set(float64(state))
}

// ObserveCache implements the history cache observer
func (r *Registry) ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveHTTP records one served request
func (r *Registry) ObserveHTTP(method, route, status string, d time.Duration) {
	r.HTTPRequests.WithLabelValues(method, route, status).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
