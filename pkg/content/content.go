// Package content defines how file bytes are reached and cleaned up.
//
// The metadata tree is the source of truth for what exists; this package
// only brokers access to the bytes behind a storage path. Downloads are
// served indirectly: the engine authorizes the request and the broker
// issues a short-lived signed URL, so file bytes never flow through this
// process.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound indicates the storage backend has no object at the
// requested path.
var ErrObjectNotFound = errors.New("object not found")

// SignedURLRequest describes one download grant.
type SignedURLRequest struct {
	// StoragePath is the backend key of the object.
	StoragePath string

	// Filename, when set, is offered to the browser as the attachment
	// name.
	Filename string
}

// SignedURL is a time-limited download capability. Possession of the URL
// is sufficient to fetch the bytes until it expires; issuance is what
// gets audited.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// SignedURLBroker issues signed download URLs for stored objects.
type SignedURLBroker interface {
	// SignedDownloadURL returns a time-limited URL granting read access
	// to one object. The broker does not authorize: callers must have
	// already established that the requester may read the object.
	SignedDownloadURL(ctx context.Context, req SignedURLRequest) (*SignedURL, error)
}

// ObjectRemover deletes stored objects after their metadata is gone.
//
// Removal is best-effort cleanup: a failed removal leaks an orphaned
// object but never resurrects metadata, so implementations report
// per-path failures instead of aborting the batch.
type ObjectRemover interface {
	// RemoveObjects deletes the objects at the given storage paths and
	// returns the paths that could not be deleted. Missing objects are
	// not failures.
	RemoveObjects(ctx context.Context, storagePaths []string) map[string]error
}

// Store is the full content backend: URL issuance plus cleanup.
type Store interface {
	SignedURLBroker
	ObjectRemover
}
