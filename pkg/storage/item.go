package storage

import "time"

// ItemType distinguishes folders from files in the storage tree.
type ItemType int

const (
	// ItemTypeFolder is a container for other items.
	ItemTypeFolder ItemType = iota

	// ItemTypeFile is a leaf item backed by an object in binary storage.
	ItemTypeFile
)

// String returns a human-readable name for the item type.
func (t ItemType) String() string {
	switch t {
	case ItemTypeFolder:
		return "folder"
	case ItemTypeFile:
		return "file"
	default:
		return "unknown"
	}
}

// Visibility is the per-item policy controlling which organisation members
// may see and act on the item.
//
// The set of policies is closed: the visibility resolver matches this enum
// exhaustively, so adding a new policy is a compile-time-checked change.
// Do not compare visibility by string anywhere outside (de)serialization.
type Visibility int

const (
	// VisibilityOrg makes the item visible to every member of the
	// organisation the item belongs to.
	VisibilityOrg Visibility = iota

	// VisibilityPrivate makes the item visible only to its owner.
	VisibilityPrivate

	// VisibilityCustom makes the item visible to its owner plus the
	// explicit user set carried in Item.UserIDs. An empty set is valid
	// and means owner-only; ownership is always implicit, so an item is
	// never visible to nobody.
	VisibilityCustom
)

// String returns the wire/storage name of the visibility policy.
func (v Visibility) String() string {
	switch v {
	case VisibilityOrg:
		return "org"
	case VisibilityPrivate:
		return "private"
	case VisibilityCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseVisibility converts a wire/storage name into a Visibility value.
//
// Returns a StoreError with ErrInvalidArgument for unknown names so callers
// can surface it as a validation failure rather than a server fault.
func ParseVisibility(s string) (Visibility, error) {
	switch s {
	case "org":
		return VisibilityOrg, nil
	case "private":
		return VisibilityPrivate, nil
	case "custom":
		return VisibilityCustom, nil
	default:
		return 0, &StoreError{
			Code:    ErrInvalidArgument,
			Message: "unknown visibility policy: " + s,
		}
	}
}

// Item is a single node in an organisation's storage tree.
//
// Identity and tenancy (ID, OrganizationID) are immutable for the item's
// lifetime. The parent chain of any item, followed to its root, terminates
// (no cycles) and never leaves the organisation; the tree stores enforce
// both invariants on every insert.
type Item struct {
	// ID is the opaque unique identifier, assigned at creation.
	ID string `json:"id"`

	// OrganizationID is the tenant this item belongs to. Items never move
	// between organisations.
	OrganizationID string `json:"organization_id"`

	// ParentID references the containing folder within the same
	// organisation. Nil means the item sits at the organisation root.
	ParentID *string `json:"parent_id,omitempty"`

	// Type is folder or file.
	Type ItemType `json:"type"`

	// Name is the display name. Collisions within a parent are a UX
	// concern, not a model invariant.
	Name string `json:"name"`

	// OwnerID is the user that created the item. Owners always see their
	// own items regardless of visibility policy.
	OwnerID string `json:"owner_id"`

	// Visibility is the policy governing who may see/act on the item.
	Visibility Visibility `json:"visibility"`

	// UserIDs is the explicit grant set, meaningful only when
	// Visibility == VisibilityCustom. Ignored otherwise.
	UserIDs []string `json:"user_ids,omitempty"`

	// StoragePath is the opaque reference into binary object storage.
	// Set only for files.
	StoragePath string `json:"storage_path,omitempty"`

	// MimeType is the declared content type. Set only for files.
	MimeType string `json:"mime_type,omitempty"`

	// Size is the content size in bytes. Set only for files.
	Size int64 `json:"size,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFile reports whether the item is a downloadable file.
func (i *Item) IsFile() bool {
	return i.Type == ItemTypeFile
}

// Clone returns a deep copy of the item.
//
// Stores hand out clones so callers can never mutate persisted state
// through a returned pointer.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.ParentID != nil {
		parent := *i.ParentID
		out.ParentID = &parent
	}
	if i.UserIDs != nil {
		out.UserIDs = make([]string, len(i.UserIDs))
		copy(out.UserIDs, i.UserIDs)
	}
	return &out
}

// DeletedItem describes one item removed by a cascade delete.
//
// StoragePath is carried so the caller can schedule cleanup of the backing
// object for files; it is empty for folders.
type DeletedItem struct {
	ID          string
	Type        ItemType
	StoragePath string
}
