// Package memory provides an in-memory TreeStore implementation.
//
// It is the reference implementation used by tests and development
// deployments. All operations run under a single read-write mutex, which
// makes every mutation trivially atomic: a cascade delete either commits
// entirely or not at all because nothing else can observe the store
// mid-operation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wardenfs/warden/pkg/storage"
)

// rootKey indexes children of an organisation root (items with nil parent).
const rootKey = ""

// MemoryTreeStore implements storage.TreeStore using in-memory maps.
//
// Storage model:
//   - items:    orgID -> itemID -> item
//   - children: orgID -> parent key -> set of child ids
//
// The two maps are kept bidirectionally consistent by every mutation:
// every item with a parent appears in its parent's child set, and every
// child set entry resolves to a stored item.
type MemoryTreeStore struct {
	mu       sync.RWMutex
	items    map[string]map[string]*storage.Item
	children map[string]map[string]map[string]struct{}
}

// NewMemoryTreeStore creates an empty in-memory tree store, immediately
// ready for concurrent use.
func NewMemoryTreeStore() *MemoryTreeStore {
	return &MemoryTreeStore{
		items:    make(map[string]map[string]*storage.Item),
		children: make(map[string]map[string]map[string]struct{}),
	}
}

func parentKey(parentID *string) string {
	if parentID == nil {
		return rootKey
	}
	return *parentID
}

// GetItem retrieves a single item by id within an organisation.
func (s *MemoryTreeStore) GetItem(ctx context.Context, orgID, itemID string) (*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[orgID][itemID]
	if !ok {
		return nil, &storage.StoreError{
			Code:    storage.ErrNotFound,
			Message: "item not found",
			ItemID:  itemID,
		}
	}
	return item.Clone(), nil
}

// ListChildren returns the direct children of parentID, or the
// organisation's root items when parentID is nil.
func (s *MemoryTreeStore) ListChildren(ctx context.Context, orgID string, parentID *string) ([]*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if parentID != nil {
		parent, ok := s.items[orgID][*parentID]
		if !ok {
			return nil, &storage.StoreError{
				Code:    storage.ErrNotFound,
				Message: "parent folder not found",
				ItemID:  *parentID,
			}
		}
		if parent.Type != storage.ItemTypeFolder {
			return nil, &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "parent is not a folder",
				ItemID:  *parentID,
			}
		}
	}

	ids := s.children[orgID][parentKey(parentID)]
	out := make([]*storage.Item, 0, len(ids))
	for id := range ids {
		if item, ok := s.items[orgID][id]; ok {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

// InsertItem persists a new item after validating tenancy and tree shape.
func (s *MemoryTreeStore) InsertItem(ctx context.Context, item *storage.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item == nil || item.ID == "" || item.OrganizationID == "" {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "item id and organisation id are required",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orgItems := s.items[item.OrganizationID]
	if _, exists := orgItems[item.ID]; exists {
		return &storage.StoreError{
			Code:    storage.ErrAlreadyExists,
			Message: "item id already exists",
			ItemID:  item.ID,
		}
	}

	if item.ParentID != nil {
		if err := s.validateParentLocked(item.OrganizationID, item.ID, *item.ParentID); err != nil {
			return err
		}
	}

	if orgItems == nil {
		orgItems = make(map[string]*storage.Item)
		s.items[item.OrganizationID] = orgItems
	}
	orgItems[item.ID] = item.Clone()

	orgChildren := s.children[item.OrganizationID]
	if orgChildren == nil {
		orgChildren = make(map[string]map[string]struct{})
		s.children[item.OrganizationID] = orgChildren
	}
	key := parentKey(item.ParentID)
	if orgChildren[key] == nil {
		orgChildren[key] = make(map[string]struct{})
	}
	orgChildren[key][item.ID] = struct{}{}

	return nil
}

// validateParentLocked checks that the parent exists, is a folder in the
// same organisation, and that linking itemID under it creates no cycle.
// Caller must hold the write lock.
func (s *MemoryTreeStore) validateParentLocked(orgID, itemID, parentID string) error {
	if parentID == itemID {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "item cannot be its own parent",
			ItemID:  itemID,
		}
	}

	parent, ok := s.items[orgID][parentID]
	if !ok {
		return &storage.StoreError{
			Code:    storage.ErrNotFound,
			Message: "parent folder not found",
			ItemID:  parentID,
		}
	}
	if parent.Type != storage.ItemTypeFolder {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "parent is not a folder",
			ItemID:  parentID,
		}
	}

	// Walk the parent chain to the root. Hitting itemID means the link
	// would close a cycle; a chain longer than the item count means the
	// stored state is already corrupt, which we also refuse to extend.
	steps := 0
	limit := len(s.items[orgID]) + 1
	for cur := parent; cur.ParentID != nil; {
		if *cur.ParentID == itemID {
			return &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "operation would create a parent cycle",
				ItemID:  itemID,
			}
		}
		next, ok := s.items[orgID][*cur.ParentID]
		if !ok {
			return &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "parent chain is broken",
				ItemID:  *cur.ParentID,
			}
		}
		cur = next
		if steps++; steps > limit {
			return &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "parent chain does not terminate",
				ItemID:  parentID,
			}
		}
	}
	return nil
}

// UpdateItem atomically applies mutate to the stored item.
func (s *MemoryTreeStore) UpdateItem(ctx context.Context, orgID, itemID string, mutate func(*storage.Item) error) (*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[orgID][itemID]
	if !ok {
		return nil, &storage.StoreError{
			Code:    storage.ErrNotFound,
			Message: "item not found",
			ItemID:  itemID,
		}
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}

	// Identity, tenancy and tree position are immutable through updates.
	updated.ID = current.ID
	updated.OrganizationID = current.OrganizationID
	updated.ParentID = current.ParentID
	updated.Type = current.Type
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	s.items[orgID][itemID] = updated
	return updated.Clone(), nil
}

// DeleteSubtree removes the item and every descendant atomically.
func (s *MemoryTreeStore) DeleteSubtree(ctx context.Context, orgID, itemID string) ([]storage.DeletedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.items[orgID][itemID]
	if !ok {
		return nil, &storage.StoreError{
			Code:    storage.ErrNotFound,
			Message: "item not found",
			ItemID:  itemID,
		}
	}

	// Collect the subtree first, then remove. Under the write lock no
	// partial state is ever observable.
	var deleted []storage.DeletedItem
	stack := []*storage.Item{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		deleted = append(deleted, storage.DeletedItem{
			ID:          cur.ID,
			Type:        cur.Type,
			StoragePath: cur.StoragePath,
		})

		for childID := range s.children[orgID][cur.ID] {
			if child, ok := s.items[orgID][childID]; ok {
				stack = append(stack, child)
			}
		}
	}

	for _, d := range deleted {
		delete(s.items[orgID], d.ID)
		delete(s.children[orgID], d.ID)
	}
	delete(s.children[orgID][parentKey(root.ParentID)], itemID)

	return deleted, nil
}

// Healthcheck always succeeds; the store has no external dependencies.
func (s *MemoryTreeStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory store.
func (s *MemoryTreeStore) Close() error {
	return nil
}
