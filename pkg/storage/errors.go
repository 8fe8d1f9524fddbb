package storage

import "errors"

// StoreError represents a domain error from storage-tree operations.
//
// These are business logic errors (item not found, access denied, quota
// exhausted) as opposed to infrastructure errors (network failure, disk
// error). Transport layers translate ErrorCode values to protocol-specific
// statuses; the engine never leaks internal detail through Message.
type StoreError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable, non-leaking error description.
	Message string

	// ItemID is the item related to the error, if applicable.
	ItemID string

	// Fields carries per-field validation errors for ErrValidationFailed.
	Fields []string

	// Remaining carries the quota left in the current window for
	// ErrRateLimited.
	Remaining int
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ItemID != "" {
		return e.Message + ": " + e.ItemID
	}
	return e.Message
}

// ErrorCode represents the category of a storage domain error.
type ErrorCode int

const (
	// ErrUnauthorized indicates no authenticated identity was supplied.
	ErrUnauthorized ErrorCode = iota

	// ErrForbidden indicates the authenticated user is not permitted to
	// perform the operation. Distinct from ErrUnauthorized for correct
	// status mapping, and distinct from ErrNotFound where the operation
	// deliberately discloses that the item exists.
	ErrForbidden

	// ErrNotFound indicates the item does not exist or, for operations
	// that deliberately do not disclose existence, is not visible to the
	// caller.
	ErrNotFound

	// ErrValidationFailed indicates malformed input. Fields on the
	// StoreError lists the specific problems.
	ErrValidationFailed

	// ErrRateLimited indicates the caller's operation-class quota is
	// exhausted for the current window.
	ErrRateLimited

	// ErrServiceUnavailable indicates an external collaborator (tree
	// store, object storage, counter store) could not be reached.
	ErrServiceUnavailable

	// ErrAlreadyExists indicates an item with the given id already exists.
	ErrAlreadyExists

	// ErrInvalidArgument indicates invalid parameters at the store level
	// (empty id, cross-organisation parent, parent cycle).
	ErrInvalidArgument

	// ErrNotAFile indicates a download was requested for a folder.
	ErrNotAFile
)

// String returns the symbolic name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrNotFound:
		return "not_found"
	case ErrValidationFailed:
		return "validation_failed"
	case ErrRateLimited:
		return "rate_limited"
	case ErrServiceUnavailable:
		return "service_unavailable"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotAFile:
		return "not_a_file"
	default:
		return "unknown"
	}
}

// CodeOf extracts the ErrorCode from an error chain.
//
// Returns the code and true if the error (or anything it wraps) is a
// StoreError; otherwise returns false, in which case callers should treat
// the failure as ErrServiceUnavailable.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
