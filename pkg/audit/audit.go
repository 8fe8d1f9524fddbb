// Package audit produces the tamper-evident trail of security-relevant
// decisions: every denial and every completed mutation yields exactly one
// immutable entry.
//
// Writes are fire-and-forget: a failed or slow audit write must never fail
// or block the operation it describes. The Recorder therefore dispatches
// entries to a background writer through a buffered channel and reports
// write failures to an operational error channel (log + callback) instead
// of the caller. Entries are never retried: availability of the primary
// operation outranks completeness of the trail, and the trade-off is kept
// visible in monitoring.
package audit

import "time"

// Action identifies the kind of security-relevant event.
type Action string

const (
	// ActionAccessDenied records any denial: failed validation, an
	// exhausted quota, a missing membership or an invisible target all
	// end an operation here.
	ActionAccessDenied Action = "ACCESS_DENIED"

	// ActionFileCreated records a successful file creation.
	ActionFileCreated Action = "FILE_CREATED"

	// ActionFolderCreated records a successful folder creation.
	ActionFolderCreated Action = "FOLDER_CREATED"

	// ActionItemRenamed records a successful rename.
	ActionItemRenamed Action = "ITEM_RENAMED"

	// ActionItemDeleted records a successful cascade delete.
	ActionItemDeleted Action = "ITEM_DELETED"

	// ActionVisibilityChanged records a successful visibility update.
	ActionVisibilityChanged Action = "VISIBILITY_CHANGED"

	// ActionFileDownloaded records successful signed-URL issuance.
	// Plain listings are not audited; capability issuance is.
	ActionFileDownloaded Action = "FILE_DOWNLOADED"

	// ActionOperationFailed records a store-level failure during a
	// mutation that had already passed authorization.
	ActionOperationFailed Action = "OPERATION_FAILED"
)

// Entry is one immutable audit record. Entries are append-only: nothing in
// this system updates or deletes them after creation.
type Entry struct {
	// ID is a unique, time-sortable identifier assigned by the Recorder.
	ID string `json:"id"`

	Action         Action `json:"action"`
	ActorUserID    string `json:"actor_user_id"`
	OrganizationID string `json:"organization_id"`

	// ItemID is the target item, when the event has one.
	ItemID string `json:"item_id,omitempty"`

	// Metadata carries event-specific detail (denial reason, new name,
	// degraded rate-limit flag). Values must not leak other tenants'
	// data.
	Metadata map[string]string `json:"metadata,omitempty"`

	ClientIP  string    `json:"client_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the caller-supplied part of an entry; the Recorder adds
// identity and time.
type Event struct {
	Action         Action
	ActorUserID    string
	OrganizationID string
	ItemID         string
	Metadata       map[string]string
	ClientIP       string
}

// Sink persists audit entries.
//
// Append must treat the entry as immutable and must be safe for
// concurrent use. A sink never sees the same entry twice.
type Sink interface {
	Append(entry Entry) error
}
