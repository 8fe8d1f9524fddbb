// Package engine orchestrates the storage operations: for every request it
// composes authentication, input validation, rate limiting, visibility
// resolution and auditing so that no unauthorized or unlogged mutation can
// slip through.
//
// Every operation follows the same envelope: identity check → input
// validation → rate-limit check → authorization → mutation/query → audit.
// Early exits after any failing stage produce exactly one ACCESS_DENIED
// audit entry; every completed mutation produces exactly one success
// entry. The engine never retries: any failure is terminal for that
// request and resubmission is the caller's policy (and costs quota, since
// the rate-limit unit is consumed up front and never refunded).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardenfs/warden/internal/ratelimiter"
	"github.com/wardenfs/warden/pkg/audit"
	"github.com/wardenfs/warden/pkg/content"
	"github.com/wardenfs/warden/pkg/storage"
)

// DefaultCleanupTimeout bounds the background object-storage cleanup that
// follows a cascade delete.
const DefaultCleanupTimeout = 30 * time.Second

// Identity is the authenticated caller, resolved by an external
// collaborator (the session middleware) before the engine is invoked. The
// engine never sees credentials.
type Identity struct {
	// UserID identifies the acting user. Empty means unauthenticated.
	UserID string

	// Organizations lists the organisation ids the user is a member of.
	Organizations []string

	// ClientIP is carried into audit entries.
	ClientIP string
}

// MemberOf reports whether the identity belongs to the organisation.
func (i Identity) MemberOf(orgID string) bool {
	for _, org := range i.Organizations {
		if org == orgID {
			return true
		}
	}
	return false
}

// Engine is the storage operation engine.
type Engine struct {
	tree     storage.TreeStore
	content  content.Store
	limiter  *ratelimiter.Limiter
	recorder *audit.Recorder
	metrics  Metrics
	logger   zerolog.Logger

	cleanupTimeout time.Duration
	cleanupWG      sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// EngineDependencies carries the collaborators an Engine composes.
type EngineDependencies struct {
	// Tree is the storage tree backend (required).
	Tree storage.TreeStore

	// Content issues signed download URLs and removes deleted objects
	// (required).
	Content content.Store

	// Limiter enforces per-user operation quotas (required).
	Limiter *ratelimiter.Limiter

	// Recorder receives the audit trail (required).
	Recorder *audit.Recorder

	// Metrics receives operational signals. Nil means no collection.
	Metrics Metrics

	// Logger is the structured logger for engine diagnostics.
	Logger zerolog.Logger

	// CleanupTimeout bounds post-delete object cleanup. Zero means
	// DefaultCleanupTimeout.
	CleanupTimeout time.Duration
}

// NewEngine creates an Engine from its dependencies.
func NewEngine(deps EngineDependencies) (*Engine, error) {
	if deps.Tree == nil {
		return nil, fmt.Errorf("tree store is required")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics()
	}

	cleanupTimeout := deps.CleanupTimeout
	if cleanupTimeout == 0 {
		cleanupTimeout = DefaultCleanupTimeout
	}

	return &Engine{
		tree:           deps.Tree,
		content:        deps.Content,
		limiter:        deps.Limiter,
		recorder:       deps.Recorder,
		metrics:        metrics,
		logger:         deps.Logger.With().Str("component", "engine").Logger(),
		cleanupTimeout: cleanupTimeout,
		newID:          uuid.NewString,
		now:            time.Now,
	}, nil
}

// Close waits for in-flight background cleanup to finish, bounded by the
// context. The audit recorder is owned by the caller and drained
// separately.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.cleanupWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cleanup drain interrupted: %w", ctx.Err())
	}
}

// authenticate rejects requests without an authenticated identity.
func (e *Engine) authenticate(id Identity, orgID, operation string) error {
	if id.UserID != "" {
		return nil
	}

	e.deny(id, orgID, "", operation, "unauthenticated", nil)
	return &storage.StoreError{
		Code:    storage.ErrUnauthorized,
		Message: "authentication required",
	}
}

// takeQuota consumes one rate-limit unit and enforces organisation
// membership. It reports whether the decision was made in degraded mode
// so the operation's audit entry can carry the flag.
func (e *Engine) takeQuota(ctx context.Context, id Identity, orgID, operation string, class ratelimiter.Class) (degraded bool, err error) {
	decision := e.limiter.Take(ctx, id.UserID, class)
	if decision.Degraded {
		e.metrics.RateLimitDegraded(string(class))
	}
	if !decision.Allowed {
		e.metrics.RateLimitRejected(string(class))
		e.deny(id, orgID, "", operation, "rate_limited", map[string]string{
			"rate_limit_class": string(class),
		})
		return decision.Degraded, &storage.StoreError{
			Code:      storage.ErrRateLimited,
			Message:   "rate limit exceeded for " + string(class),
			Remaining: decision.Remaining,
		}
	}

	if !id.MemberOf(orgID) {
		e.deny(id, orgID, "", operation, "not_an_organization_member", nil)
		return decision.Degraded, &storage.StoreError{
			Code:    storage.ErrForbidden,
			Message: "not a member of this organization",
		}
	}

	return decision.Degraded, nil
}

// visibleTo resolves the visibility policy for the identity.
func (e *Engine) visibleTo(item *storage.Item, id Identity) bool {
	return storage.IsVisible(item, id.UserID, id.MemberOf(item.OrganizationID))
}

// validationError turns a list of field problems into a denial. The
// request is audited as denied before any quota or store access.
func (e *Engine) validationError(id Identity, orgID, operation string, fields []string) error {
	e.deny(id, orgID, "", operation, "validation_failed", nil)
	return &storage.StoreError{
		Code:    storage.ErrValidationFailed,
		Message: "invalid request",
		Fields:  fields,
	}
}

// deny records the single ACCESS_DENIED entry for a denied request.
func (e *Engine) deny(id Identity, orgID, itemID, operation, reason string, extra map[string]string) {
	e.metrics.AccessDenied(operation)

	metadata := map[string]string{
		"operation": operation,
		"reason":    reason,
	}
	for k, v := range extra {
		metadata[k] = v
	}

	e.recorder.Record(audit.Event{
		Action:         audit.ActionAccessDenied,
		ActorUserID:    id.UserID,
		OrganizationID: orgID,
		ItemID:         itemID,
		Metadata:       metadata,
		ClientIP:       id.ClientIP,
	})
}

// auditSuccess records the single success entry for a completed
// operation, annotating decisions made while the rate limiter was
// degraded.
func (e *Engine) auditSuccess(id Identity, orgID string, action audit.Action, itemID string, metadata map[string]string, degraded bool) {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	if degraded {
		metadata["rate_limit_degraded"] = "true"
	}

	e.recorder.Record(audit.Event{
		Action:         action,
		ActorUserID:    id.UserID,
		OrganizationID: orgID,
		ItemID:         itemID,
		Metadata:       metadata,
		ClientIP:       id.ClientIP,
	})
}

// storeFailure maps a post-authorization store failure to the caller.
// Domain errors pass through unchanged; infrastructure failures are
// audited as OPERATION_FAILED and surfaced as ServiceUnavailable without
// leaking internal detail.
func (e *Engine) storeFailure(id Identity, orgID, itemID, operation string, err error) error {
	if _, ok := storage.CodeOf(err); ok {
		return err
	}

	e.logger.Error().Err(err).
		Str("operation", operation).
		Str("organization_id", orgID).
		Msg("Store operation failed")

	e.recorder.Record(audit.Event{
		Action:         audit.ActionOperationFailed,
		ActorUserID:    id.UserID,
		OrganizationID: orgID,
		ItemID:         itemID,
		Metadata: map[string]string{
			"operation": operation,
		},
		ClientIP: id.ClientIP,
	})

	return &storage.StoreError{
		Code:    storage.ErrServiceUnavailable,
		Message: "storage backend unavailable",
	}
}

// scheduleCleanup removes the backing objects of deleted files in the
// background. Cleanup is best-effort: a failure leaks an orphaned object,
// never resurrects metadata, and is only logged.
func (e *Engine) scheduleCleanup(storagePaths []string) {
	if len(storagePaths) == 0 {
		return
	}

	e.cleanupWG.Add(1)
	go func() {
		defer e.cleanupWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.cleanupTimeout)
		defer cancel()

		failures := e.content.RemoveObjects(ctx, storagePaths)
		for path, err := range failures {
			e.logger.Warn().Err(err).
				Str("storage_path", path).
				Msg("Orphaned object left behind after delete")
		}
	}()
}
