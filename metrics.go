package bowtie

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// MetricsCollector exposes Prometheus metrics for invocations, the cache
// gate, the resilience boundary and the transport. All Record methods are
// safe on a nil collector.
type MetricsCollector struct {
	invocationsTotal    *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	invocationsInFlight *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	bulkheadRejections  *prometheus.CounterVec

	retriesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	compilations *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector on registerer.
// Registering the same collector twice panics, as with promauto.
func NewMetricsCollectorWithRegistry(registerer prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registerer)

	return &MetricsCollector{
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_invocations_total",
				Help: "Total number of method invocations by outcome",
			},
			[]string{"method", "group", "command", "outcome"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bowtie_invocation_duration_seconds",
				Help:    "Duration of method invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "outcome"},
		),
		invocationsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bowtie_invocations_in_flight",
				Help: "Number of invocations currently executing",
			},
			[]string{"method"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"method"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"method"},
		),
		cacheErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_cache_errors_total",
				Help: "Total number of failed cache reads and writes",
			},
			[]string{"method", "op"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bowtie_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"group", "command"},
		),
		bulkheadRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_bulkhead_rejections_total",
				Help: "Total number of executions rejected by a full bulkhead",
			},
			[]string{"group", "command"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_transport_retries_total",
				Help: "Total number of transport retry attempts",
			},
			[]string{"server"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_errors_total",
				Help: "Total number of invocation errors by type",
			},
			[]string{"type", "method"},
		),
		compilations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bowtie_descriptor_compilations_total",
				Help: "Total number of descriptor compilations",
			},
			[]string{"method"},
		),
		registerer: registerer,
	}
}

// RecordInvocation counts a finished invocation and observes its duration.
func (mc *MetricsCollector) RecordInvocation(method string, key CommandKey, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.invocationsTotal.WithLabelValues(method, key.Group, key.Command, outcome).Inc()
	mc.invocationDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

// RecordInvocationStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordInvocationStart(method string) {
	if mc == nil {
		return
	}
	mc.invocationsInFlight.WithLabelValues(method).Inc()
}

// RecordInvocationEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordInvocationEnd(method string) {
	if mc == nil {
		return
	}
	mc.invocationsInFlight.WithLabelValues(method).Dec()
}

func (mc *MetricsCollector) RecordCacheHit(method string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(method).Inc()
}

func (mc *MetricsCollector) RecordCacheMiss(method string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(method).Inc()
}

// RecordCacheError counts a failed cache operation; op is "get" or "set".
func (mc *MetricsCollector) RecordCacheError(method, op string) {
	if mc == nil {
		return
	}
	mc.cacheErrors.WithLabelValues(method, op).Inc()
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(key CommandKey, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(key.Group, key.Command).Set(stateValue)
}

func (mc *MetricsCollector) RecordBulkheadRejection(key CommandKey) {
	if mc == nil {
		return
	}
	mc.bulkheadRejections.WithLabelValues(key.Group, key.Command).Inc()
}

// RecordRetry counts one transport retry against server.
func (mc *MetricsCollector) RecordRetry(server string) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(server).Inc()
}

// RecordError counts a failed invocation by error type.
func (mc *MetricsCollector) RecordError(errorType, method string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method).Inc()
}

func (mc *MetricsCollector) RecordCompilation(method string) {
	if mc == nil {
		return
	}
	mc.compilations.WithLabelValues(method).Inc()
}

// Registerer returns the registerer the collector was built on.
func (mc *MetricsCollector) Registerer() prometheus.Registerer {
	return mc.registerer
}
