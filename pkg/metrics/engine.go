package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wardenfs/warden/pkg/engine"
	"github.com/wardenfs/warden/pkg/storage"
)

// engineMetrics is the Prometheus implementation of engine.Metrics.
type engineMetrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	accessDenials      *prometheus.CounterVec
	rateLimitRejects   *prometheus.CounterVec
	rateLimitDegraded  *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
}

// NewEngineMetrics creates a Prometheus-backed engine.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes the engine use its no-op implementation.
func NewEngineMetrics() engine.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &engineMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_operations_total",
				Help: "Total number of engine operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "warden_operation_duration_seconds",
				Help: "Duration of engine operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"operation"},
		),
		accessDenials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_access_denials_total",
				Help: "Total number of denied requests by operation",
			},
			[]string{"operation"},
		),
		rateLimitRejects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rate_limit_rejections_total",
				Help: "Total number of requests rejected by quota, by class",
			},
			[]string{"class"},
		),
		rateLimitDegraded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_rate_limit_degraded_decisions_total",
				Help: "Total number of rate-limit decisions taken while the counter store was unreachable",
			},
			[]string{"class"},
		),
		auditWriteFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_write_failures_total",
				Help: "Total number of audit entries that could not be persisted",
			},
		),
	}
}

// ObserveOperation implements engine.Metrics.
func (m *engineMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		if code, ok := storage.CodeOf(err); ok {
			outcome = code.String()
		} else {
			outcome = "error"
		}
	}

	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// AccessDenied implements engine.Metrics.
func (m *engineMetrics) AccessDenied(operation string) {
	m.accessDenials.WithLabelValues(operation).Inc()
}

// RateLimitRejected implements engine.Metrics.
func (m *engineMetrics) RateLimitRejected(class string) {
	m.rateLimitRejects.WithLabelValues(class).Inc()
}

// RateLimitDegraded implements engine.Metrics.
func (m *engineMetrics) RateLimitDegraded(class string) {
	m.rateLimitDegraded.WithLabelValues(class).Inc()
}

// AuditWriteFailure implements engine.Metrics.
func (m *engineMetrics) AuditWriteFailure() {
	m.auditWriteFailures.Inc()
}
