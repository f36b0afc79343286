// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring majordomo.
package observability

import "github.com/prometheus/client_golang/prometheus"

// InvocationBuckets defines histogram buckets suited for script
// invocations, ranging from 1ms to 10s. Most of the upper range is time
// spent in outbound capability calls.
var InvocationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "majordomo_request_duration_seconds",
			Help:    "Request duration",
			Buckets: InvocationBuckets,
		},
		[]string{"method", "route"},
	)

	// InvocationsTotal counts handler invocations by outcome
	// (success, not_found, runtime_error).
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_invocations_total",
			Help: "Handler invocations",
		},
		[]string{"result"},
	)

	// InvocationDuration records time spent inside the engine.
	InvocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "majordomo_invocation_duration_seconds",
			Help:    "Handler invocation duration",
			Buckets: InvocationBuckets,
		},
	)

	// InvocationsInFlight tracks invocations currently running.
	InvocationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "majordomo_invocations_in_flight",
			Help: "Invocations currently running",
		},
	)

	// HandlersRegistered tracks the number of handlers in the registry.
	HandlersRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "majordomo_handlers_registered",
			Help: "Registered handlers",
		},
	)

	// UpsertsTotal counts upsert attempts by outcome.
	UpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_upserts_total",
			Help: "Handler upserts",
		},
		[]string{"result"},
	)

	// CapabilityCallsTotal counts host capability calls made by scripts.
	CapabilityCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_capability_calls_total",
			Help: "Capability calls",
		},
		[]string{"capability", "status"},
	)

	// EventsTotal counts inbound chat events by outcome.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_events_total",
			Help: "Chat events",
		},
		[]string{"result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"scope"},
	)

	// AuthFailuresTotal counts rejected credentials by how they were presented.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "majordomo_auth_failures_total",
			Help: "Rejected credentials",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InvocationsTotal,
		InvocationDuration,
		InvocationsInFlight,
		HandlersRegistered,
		UpsertsTotal,
		CapabilityCallsTotal,
		EventsTotal,
		RateLimitRejectedTotal,
		AuthFailuresTotal,
	)
}
