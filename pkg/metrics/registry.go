// Package metrics hosts the Prometheus counters/histograms used across
// the service, isolated per deployment namespace so the same process (or
// the same test binary, run after run) can construct independent
// registries without label collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a prometheus.Registry plus pre-registered metric families.
// A full Reset() is supported so tests can construct throwaway instances.
type Registry struct {
	namespace string
	reg       *prometheus.Registry

	requestTotal             *prometheus.CounterVec
	requestLatency           *prometheus.HistogramVec
	rateLimitDecisionTotal   *prometheus.CounterVec
	rateLimitLatency         prometheus.Histogram
	idempotencyHitsTotal     *prometheus.CounterVec
	idempotencyReplaysTotal  prometheus.Counter
	idempotencyLatency       prometheus.Histogram
	authLatency              prometheus.Histogram
	authOkTotal              *prometheus.CounterVec
	authFailTotal            *prometheus.CounterVec
	readinessChecks          *prometheus.CounterVec
	exporterDuration         *prometheus.HistogramVec
	exporterBytesTotal       *prometheus.CounterVec
	exportJobsTotal          *prometheus.CounterVec
	exportRowsTotal          *prometheus.CounterVec
	exportErrorsTotal        *prometheus.CounterVec
	downloadSignedTotal      *prometheus.CounterVec
	tokenRotationTotal       *prometheus.CounterVec
	retryAttemptsTotal       *prometheus.CounterVec
	retryExhaustionTotal     *prometheus.CounterVec
	retryBackoffSeconds      *prometheus.HistogramVec
	allocationNoCandidate    prometheus.Counter
}

// New builds a Registry scoped to namespace. Two registries with the same
// namespace string can coexist (e.g. across test cases) because each wraps
// its own *prometheus.Registry instance; namespace only prefixes metric
// names, it is not a global key.
func New(namespace string) *Registry {
	r := &Registry{namespace: namespace, reg: prometheus.NewRegistry()}
	r.build()
	return r
}

// Reset discards all recorded samples by rebuilding the underlying
// collectors from scratch.
func (r *Registry) Reset() {
	r.reg = prometheus.NewRegistry()
	r.build()
}

// Prometheus exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

func (r *Registry) build() {
	latencyBuckets := []float64{0.05, 0.1, 0.2, 0.5, 1.0}

	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "request_total", Help: "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "request_latency_seconds", Help: "HTTP request latency.", Buckets: latencyBuckets,
	}, []string{"method", "path"})

	r.rateLimitDecisionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "rate_limit_decision_total", Help: "Rate limit decisions.",
	}, []string{"decision"})

	r.rateLimitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "rate_limit_latency_seconds", Help: "Rate limit middleware latency.", Buckets: latencyBuckets,
	})

	r.idempotencyHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "idempotency_hits_total", Help: "Idempotency outcomes.",
	}, []string{"outcome"})

	r.idempotencyReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "idempotency_replays_total", Help: "Idempotent replays served.",
	})

	r.idempotencyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "idempotency_latency_seconds", Help: "Idempotency middleware latency.", Buckets: latencyBuckets,
	})

	r.authLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "auth_latency_seconds", Help: "Auth middleware latency.", Buckets: latencyBuckets,
	})

	r.authOkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "auth_ok_total", Help: "Successful authentications.",
	}, []string{"role"})

	r.authFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "auth_fail_total", Help: "Failed authentications.",
	}, []string{"reason"})

	r.readinessChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "readiness_checks", Help: "Probe executions.",
	}, []string{"component", "status"})

	r.exporterDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "exporter_duration_seconds", Help: "Exporter phase duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	r.exporterBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "exporter_bytes_total", Help: "Bytes written by the exporter.",
	}, []string{"format"})

	r.exportJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "export_jobs_total", Help: "Export job terminal states.",
	}, []string{"status"})

	r.exportRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "export_rows_total", Help: "Rows exported.",
	}, []string{"format"})

	r.exportErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "export_errors_total", Help: "Export errors by type.",
	}, []string{"type"})

	r.downloadSignedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "download_signed_total", Help: "Signed URL verification outcomes.",
	}, []string{"outcome"})

	r.tokenRotationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "token_rotation_total", Help: "Signing key rotation events.",
	}, []string{"event"})

	r.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "retry_attempts_total", Help: "Retry attempts by outcome.",
	}, []string{"op", "outcome"})

	r.retryExhaustionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "retry_exhaustion_total", Help: "Retry exhaustion events.",
	}, []string{"op"})

	r.retryBackoffSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Name: "retry_backoff_seconds", Help: "Computed retry backoff delays.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	r.allocationNoCandidate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace, Name: "allocation_no_candidate_total", Help: "Allocations with no passing mentor.",
	})

	r.reg.MustRegister(
		r.requestTotal, r.requestLatency, r.rateLimitDecisionTotal, r.rateLimitLatency,
		r.idempotencyHitsTotal, r.idempotencyReplaysTotal, r.idempotencyLatency,
		r.authLatency, r.authOkTotal, r.authFailTotal, r.readinessChecks,
		r.exporterDuration, r.exporterBytesTotal, r.exportJobsTotal, r.exportRowsTotal,
		r.exportErrorsTotal, r.downloadSignedTotal, r.tokenRotationTotal,
		r.retryAttemptsTotal, r.retryExhaustionTotal, r.retryBackoffSeconds,
		r.allocationNoCandidate,
	)
}

// RequestTotal returns the method/path/status-labeled counter.
func (r *Registry) RequestTotal(method, path, status string) prometheus.Counter {
	return r.requestTotal.WithLabelValues(method, path, status)
}

// RequestLatency returns the method/path-labeled latency observer.
func (r *Registry) RequestLatency(method, path string) prometheus.Observer {
	return r.requestLatency.WithLabelValues(method, path)
}

// RateLimitDecision returns the decision-labeled counter (allow/block/bypass,
// or error when the store fails).
func (r *Registry) RateLimitDecision(decision string) prometheus.Counter {
	return r.rateLimitDecisionTotal.WithLabelValues(decision)
}

// RateLimitLatency returns the rate-limit middleware latency observer.
func (r *Registry) RateLimitLatency() prometheus.Observer { return r.rateLimitLatency }

// IdempotencyHits returns the outcome-labeled counter.
func (r *Registry) IdempotencyHits(outcome string) prometheus.Counter {
	return r.idempotencyHitsTotal.WithLabelValues(outcome)
}

// IdempotencyReplays returns the replay counter.
func (r *Registry) IdempotencyReplays() prometheus.Counter { return r.idempotencyReplaysTotal }

// IdempotencyLatency returns the idempotency middleware latency observer.
func (r *Registry) IdempotencyLatency() prometheus.Observer { return r.idempotencyLatency }

// AuthLatency returns the auth middleware latency observer.
func (r *Registry) AuthLatency() prometheus.Observer { return r.authLatency }

// AuthOK returns the role-labeled success counter.
func (r *Registry) AuthOK(role string) prometheus.Counter { return r.authOkTotal.WithLabelValues(role) }

// AuthFail returns the reason-labeled failure counter.
func (r *Registry) AuthFail(reason string) prometheus.Counter {
	return r.authFailTotal.WithLabelValues(reason)
}

// ReadinessCheck returns the component/status-labeled probe counter.
func (r *Registry) ReadinessCheck(component, status string) prometheus.Counter {
	return r.readinessChecks.WithLabelValues(component, status)
}

// ExporterDuration returns the phase-labeled duration observer.
func (r *Registry) ExporterDuration(phase string) prometheus.Observer {
	return r.exporterDuration.WithLabelValues(phase)
}

// ExporterBytes returns the format-labeled bytes counter.
func (r *Registry) ExporterBytes(format string) prometheus.Counter {
	return r.exporterBytesTotal.WithLabelValues(format)
}

// ExportJobs returns the status-labeled job counter.
func (r *Registry) ExportJobs(status string) prometheus.Counter {
	return r.exportJobsTotal.WithLabelValues(status)
}

// ExportRows returns the format-labeled row counter.
func (r *Registry) ExportRows(format string) prometheus.Counter {
	return r.exportRowsTotal.WithLabelValues(format)
}

// ExportErrors returns the type-labeled error counter.
func (r *Registry) ExportErrors(kind string) prometheus.Counter {
	return r.exportErrorsTotal.WithLabelValues(kind)
}

// DownloadSigned returns the outcome-labeled signed-URL counter.
func (r *Registry) DownloadSigned(outcome string) prometheus.Counter {
	return r.downloadSignedTotal.WithLabelValues(outcome)
}

// TokenRotation returns the event-labeled rotation counter.
func (r *Registry) TokenRotation(event string) prometheus.Counter {
	return r.tokenRotationTotal.WithLabelValues(event)
}

// RetryAttempts returns the op/outcome-labeled retry counter.
func (r *Registry) RetryAttempts(op, outcome string) prometheus.Counter {
	return r.retryAttemptsTotal.WithLabelValues(op, outcome)
}

// RetryExhaustion returns the op-labeled exhaustion counter.
func (r *Registry) RetryExhaustion(op string) prometheus.Counter {
	return r.retryExhaustionTotal.WithLabelValues(op)
}

// RetryBackoffSeconds returns the op-labeled backoff observer.
func (r *Registry) RetryBackoffSeconds(op string) prometheus.Observer {
	return r.retryBackoffSeconds.WithLabelValues(op)
}

// AllocationNoCandidate returns the no-candidate counter.
func (r *Registry) AllocationNoCandidate() prometheus.Counter { return r.allocationNoCandidate }
