package workflow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for smith
// execution monitoring.
//
// Metrics exposed (all namespaced with "workflowforge_"):
//
// 1. inflight_workflows (gauge): Workflows currently executing.
// Use: monitor concurrency against MaxConcurrentWorkflows.
//
// 2. operation_latency_ms (histogram): Operation duration in ms.
// Labels: workflow, operation, status (success/error).
// Buckets: [1, 5, 10, 50, 100, 500, 1000, 5000, 10000].
//
// 3. workflows_total (counter): Completed workflow runs.
// Labels: workflow, outcome (completed/failed/cancelled/timeout).
//
// 4. compensations_total (counter): Compensation actions taken.
// Labels: workflow, result (restored/failed/skipped).
//
// 5. recovery_attempts_total (counter): Resume attempts by the
// recovery coordinator. Labels: workflow, result (success/failure).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//	smith, err := NewSmith(logger, services, opts, WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe.
type PrometheusMetrics struct {
	inflightWorkflows prometheus.Gauge

	operationLatency *prometheus.HistogramVec

	workflows     *prometheus.CounterVec
	compensations *prometheus.CounterVec
	recoveries    *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all smith metrics with the
// provided registry. A nil registry falls back to
// prometheus.DefaultRegisterer; pass a custom registry for isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightWorkflows = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "workflowforge",
		Name:      "inflight_workflows",
		Help:      "Current number of workflow executions running on this smith",
	})

	pm.operationLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workflowforge",
		Name:      "operation_latency_ms",
		Help:      "Operation execution duration in milliseconds (middleware chain included)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}, // 1ms to 10s
	}, []string{"workflow", "operation", "status"}) // status: success, error

	pm.workflows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowforge",
		Name:      "workflows_total",
		Help:      "Completed workflow runs by outcome",
	}, []string{"workflow", "outcome"}) // outcome: completed, failed, cancelled, timeout

	pm.compensations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowforge",
		Name:      "compensations_total",
		Help:      "Compensation actions taken during rollback walks",
	}, []string{"workflow", "result"}) // result: restored, failed, skipped

	pm.recoveries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workflowforge",
		Name:      "recovery_attempts_total",
		Help:      "Resume attempts made by the recovery coordinator",
	}, []string{"workflow", "result"}) // result: success, failure

	return pm
}

// RecordOperationLatency records one operation invocation's duration.
// status is "success" or "error".
func (pm *PrometheusMetrics) RecordOperationLatency(workflow, operation string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.operationLatency.WithLabelValues(workflow, operation, status).Observe(float64(latency.Milliseconds()))
}

// WorkflowStarted increments the inflight gauge.
func (pm *PrometheusMetrics) WorkflowStarted() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightWorkflows.Inc()
}

// WorkflowFinished decrements the inflight gauge and counts the run's
// outcome ("completed", "failed", "cancelled", "timeout").
func (pm *PrometheusMetrics) WorkflowFinished(workflow, outcome string) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightWorkflows.Dec()
	pm.workflows.WithLabelValues(workflow, outcome).Inc()
}

// RecordCompensation counts one compensation action by result
// ("restored", "failed", "skipped").
func (pm *PrometheusMetrics) RecordCompensation(workflow, result string) {
	if !pm.isEnabled() {
		return
	}
	pm.compensations.WithLabelValues(workflow, result).Inc()
}

// RecordRecoveryAttempt counts one resume attempt by result
// ("success", "failure").
func (pm *PrometheusMetrics) RecordRecoveryAttempt(workflow, result string) {
	if !pm.isEnabled() {
		return
	}
	pm.recoveries.WithLabelValues(workflow, result).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
