// Package ratelimiter provides per-user, per-operation-class request
// quotas using a fixed-window counter.
//
// The window semantics are deliberately simple: the first request for a
// key inside a window initializes the remaining quota to the class limit,
// every request atomically consumes one unit, and the counter resets when
// the window elapses. The atomic increment lives in the CounterStore so
// two concurrent requests for the same key can never both consume the
// last unit, and so the counter can be swapped for a distributed backend
// (Redis) without touching callers.
package ratelimiter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Class names an independent quota bucket.
type Class string

const (
	// ClassStorageOps covers list, create, rename, delete and visibility
	// changes.
	ClassStorageOps Class = "storage_ops"

	// ClassDownload covers signed-URL issuance, typically with a stricter
	// quota since every grant costs an external presign call.
	ClassDownload Class = "download"
)

// Quota is the limit for one operation class.
type Quota struct {
	// Limit is the number of operations allowed per window.
	Limit int

	// Window is the fixed window length.
	Window time.Duration
}

// Decision is the outcome of a Take call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the quota left in the current window after this call.
	Remaining int

	// ResetAt is when the current window expires.
	ResetAt time.Time

	// Degraded is set when the counter store was unreachable and the
	// configured failure policy decided the outcome instead of a real
	// count. Degraded decisions must be visible in the audit trail.
	Degraded bool
}

// CounterStore is the shared mutable state behind the limiter.
//
// Implementations must make Incr atomic: concurrent calls for the same key
// observe strictly increasing counts with no gaps or duplicates.
type CounterStore interface {
	// Incr increments the counter for key within its current fixed
	// window, creating the window on first use, and returns the
	// post-increment count together with the window expiry.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Limiter enforces fixed-window quotas per (user, class) key.
type Limiter struct {
	store    CounterStore
	quotas   map[Class]Quota
	failOpen bool
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// Store is the counter backend (required).
	Store CounterStore

	// Quotas maps each class to its limit. Classes without an entry are
	// unlimited.
	Quotas map[Class]Quota

	// FailOpen controls the policy when the counter store is
	// unreachable: true allows the request (with Decision.Degraded set),
	// false rejects it. A transient limiter outage should not take down
	// storage access, so deployments default to true.
	FailOpen bool
}

// New creates a Limiter with the given configuration.
func New(cfg LimiterConfig) *Limiter {
	if cfg.Store == nil {
		panic("ratelimiter: counter store is required")
	}
	return &Limiter{
		store:    cfg.Store,
		quotas:   cfg.Quotas,
		failOpen: cfg.FailOpen,
	}
}

// Take consumes one unit of the user's quota for the class.
//
// The unit is consumed before the operation runs and is never refunded on
// failure; retries cost quota by design. Unknown classes are unlimited.
func (l *Limiter) Take(ctx context.Context, userID string, class Class) Decision {
	quota, ok := l.quotas[class]
	if !ok || quota.Limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	key := string(class) + ":" + userID
	count, resetAt, err := l.store.Incr(ctx, key, quota.Window)
	if err != nil {
		log.Warn().Err(err).
			Str("key", key).
			Bool("fail_open", l.failOpen).
			Msg("rate limit counter store unreachable, applying failure policy")
		return Decision{Allowed: l.failOpen, Remaining: 0, Degraded: true}
	}

	remaining := quota.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(quota.Limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
