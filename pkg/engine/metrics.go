package engine

import "time"

// Metrics receives operational signals from the engine.
//
// Implementations must be safe for concurrent use and must not block; the
// engine calls them inline on every request. Pass NopMetrics() to run
// without collection.
type Metrics interface {
	// ObserveOperation records one completed engine operation with its
	// duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// AccessDenied counts a denial (validation, quota, membership or
	// visibility) on the named operation.
	AccessDenied(operation string)

	// RateLimitRejected counts a request rejected by quota for the named
	// class.
	RateLimitRejected(class string)

	// RateLimitDegraded counts a decision taken while the counter store
	// was unreachable.
	RateLimitDegraded(class string)

	// AuditWriteFailure counts an audit entry that could not be
	// persisted.
	AuditWriteFailure()
}

type nopMetrics struct{}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics {
	return nopMetrics{}
}

func (nopMetrics) ObserveOperation(string, time.Duration, error) {}
func (nopMetrics) AccessDenied(string)                           {}
func (nopMetrics) RateLimitRejected(string)                      {}
func (nopMetrics) RateLimitDegraded(string)                      {}
func (nopMetrics) AuditWriteFailure()                            {}
