package storage

import "context"

// TreeStore provides tenant-scoped persistence for the storage tree.
//
// The store is the system of record for mutation atomicity: cascade
// deletes and validate-then-write updates execute as a single atomic
// operation against the backend (a transaction or a store-wide write
// lock), so two concurrent mutations on the same item can never interleave
// into an inconsistent state.
//
// Tenancy:
// Every operation is scoped by organisation id. An item is only ever
// reachable through its own organisation; passing the wrong organisation
// yields ErrNotFound, never another tenant's data.
//
// Invariants maintained by all implementations:
//   - An item's parent always exists, is a folder, and belongs to the same
//     organisation.
//   - The parent chain of any item terminates at an organisation root
//     (no cycles; an item is never its own ancestor).
//   - Deleting a folder removes the entire subtree or nothing.
//
// Thread safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type TreeStore interface {
	// GetItem retrieves a single item by id within an organisation.
	//
	// Returns ErrNotFound if the item does not exist in that organisation.
	GetItem(ctx context.Context, orgID, itemID string) (*Item, error)

	// ListChildren returns the direct children of parentID within an
	// organisation. A nil parentID lists the organisation's root items.
	//
	// Visibility filtering is the caller's concern; the store returns
	// every child. Listing a non-existent parent returns ErrNotFound;
	// listing an empty folder returns an empty slice.
	ListChildren(ctx context.Context, orgID string, parentID *string) ([]*Item, error)

	// InsertItem persists a new item.
	//
	// The store validates tenancy and tree shape: the parent (when set)
	// must exist, be a folder, and belong to item.OrganizationID, and
	// linking under it must not create a cycle. Returns ErrAlreadyExists
	// if the id is taken, ErrInvalidArgument for shape violations.
	InsertItem(ctx context.Context, item *Item) error

	// UpdateItem atomically applies mutate to the stored item and
	// persists the result. The callback receives a copy; returning an
	// error aborts the update with nothing written.
	//
	// ID, OrganizationID, ParentID and Type are immutable through this
	// method; implementations discard any changes to them.
	UpdateItem(ctx context.Context, orgID, itemID string, mutate func(*Item) error) (*Item, error)

	// DeleteSubtree removes the item and every descendant atomically.
	// Either the whole subtree is removed or, on failure, none of it.
	//
	// Returns a record per removed item (the target first, descendants in
	// no particular order) so callers can schedule object-storage cleanup.
	DeleteSubtree(ctx context.Context, orgID, itemID string) ([]DeletedItem, error)

	// Healthcheck verifies the store can serve requests. Implementations
	// backed by external systems should verify connectivity; in-memory
	// implementations return nil.
	Healthcheck(ctx context.Context) error

	// Close releases store resources. The store must not be used after
	// Close returns.
	Close() error
}
