package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_http_requests_total",
		Help: "HTTP requests by method, path and status code",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finops_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_compliance_evaluations_total",
		Help: "Compliance evaluations by outcome",
	}, []string{"outcome"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finops_compliance_evaluation_duration_seconds",
		Help:    "Compliance evaluation latency",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_transaction_executions_total",
		Help: "Transaction executions by source and final status",
	}, []string{"source", "status"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finops_transaction_execution_duration_seconds",
		Help:    "Transaction execution latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	processorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_processor_calls_total",
		Help: "External processor calls by collaborator and result",
	}, []string{"processor", "result"})

	balanceCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finops_balance_cache_total",
		Help: "Balance cache lookups by result",
	}, []string{"result"})
)

// RecordHTTPRequest tracks one handled HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEvaluation tracks one compliance evaluation.
func RecordEvaluation(passed bool, duration time.Duration) {
	outcome := "rejected"
	if passed {
		outcome = "approved"
	}
	evaluationsTotal.WithLabelValues(outcome).Inc()
	evaluationDuration.Observe(duration.Seconds())
}

// RecordExecution tracks one transaction execution.
func RecordExecution(source, status string, duration time.Duration) {
	executionsTotal.WithLabelValues(source, status).Inc()
	executionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordProcessorCall tracks one external collaborator round trip.
func RecordProcessorCall(processor string, success bool) {
	result := "error"
	if success {
		result = "ok"
	}
	processorCallsTotal.WithLabelValues(processor, result).Inc()
}

// RecordBalanceCache tracks a cache hit or miss.
func RecordBalanceCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	balanceCacheTotal.WithLabelValues(result).Inc()
}
