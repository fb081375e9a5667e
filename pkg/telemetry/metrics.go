// Package telemetry exposes the gateway's operational metrics via
// promauto-registered Prometheus collectors, grounded on buckley's
// pkg/ipc/metrics.go gauge/promhttp.Handler pattern. This replaces
// buckley's much larger conversational event hub (plan/task/research/tool
// lifecycle events), which has no analogue in a headless security
// boundary: there is no plan, no conversation, and no model stream here.
// What the gateway does need to observe — denials by error code, in-flight
// concurrency per quota scope, and executor latency — is exactly the shape
// Prometheus counters/gauges/histograms are for, so dbgate uses the
// teacher's own metrics library directly instead of hand-rolling one.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dberrors "github.com/odvcencio/dbgate/pkg/errors"
)

var (
	denialsByCode = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbgate",
		Name:      "denials_total",
		Help:      "Execution boundary denials, labeled by wire error code.",
	}, []string{"code"})

	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbgate",
		Name:      "tool_invocations_total",
		Help:      "Tool invocations reaching the execution boundary, labeled by tool and outcome.",
	}, []string{"tool", "outcome"})

	inFlightByScope = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dbgate",
		Name:      "quota_in_flight",
		Help:      "Concurrently reserved quota semaphore slots, labeled by scope key.",
	}, []string{"scope"})

	executorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dbgate",
		Name:      "executor_query_duration_ms",
		Help:      "Safe-read executor query latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dbgate",
		Name:      "audit_failures_total",
		Help:      "Audit sink write failures that caused a request to fail closed.",
	})
)

// RecordDenial increments the denial counter for the given wire error code.
func RecordDenial(code dberrors.ErrorCode) {
	denialsByCode.WithLabelValues(string(code)).Inc()
}

// RecordToolInvocation increments the per-tool outcome counter. outcome is
// typically "success" or the wire error code that ended the invocation.
func RecordToolInvocation(tool, outcome string) {
	toolInvocations.WithLabelValues(tool, outcome).Inc()
}

// SetInFlight sets the current number of reserved concurrency slots for a
// quota scope key. The quota engine's semaphore is the source of truth;
// this gauge only mirrors it for observability.
func SetInFlight(scopeKey string, count int) {
	inFlightByScope.WithLabelValues(scopeKey).Set(float64(count))
}

// ObserveExecutorLatency records one safe-read executor query's duration.
func ObserveExecutorLatency(ms int) {
	executorLatency.Observe(float64(ms))
}

// RecordAuditFailure increments the audit-failure counter (spec.md §8
// property 8).
func RecordAuditFailure() {
	auditFailures.Inc()
}

// Handler serves the Prometheus exposition format for a metrics scrape
// endpoint. The gateway itself has no HTTP surface (its sole transport is
// stdio JSON-RPC, per spec.md §6), so main wires this into a narrow
// loopback-only listener dedicated to metrics, never the stdio pipe.
func Handler() http.Handler {
	return promhttp.Handler()
}
