// Package badger provides a persistent TreeStore backed by BadgerDB.
//
// BadgerDB gives the store crash recovery (WAL-based), ACID transactions
// for the cascade-delete and validate-then-write paths, and efficient
// prefix scans for child listings. The key schema is namespaced so the
// database is self-documenting:
//
//	item/<org>/<id>          -> JSON-encoded storage.Item
//	child/<org>/<parent>/<id> -> nil (directory index; parent "~root" for
//	                              organisation roots)
//
// The child index makes ListChildren a single prefix scan and lets the
// cascade delete discover a subtree without loading the whole tenant.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/wardenfs/warden/pkg/storage"
)

// rootMarker stands in for a nil parent in child index keys. The tilde
// keeps it out of the uuid alphabet so it can never collide with a real
// item id.
const rootMarker = "~root"

// BadgerTreeStore implements storage.TreeStore using BadgerDB.
//
// Atomicity:
// Every mutation runs inside a single badger update transaction, so a
// concurrent rename-and-delete on the same item serializes at the store
// and a failed cascade delete leaves the subtree fully intact.
type BadgerTreeStore struct {
	db *badger.DB
}

// BadgerTreeStoreConfig contains configuration for the badger store.
type BadgerTreeStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string

	// InMemory runs badger without touching disk. Used by tests.
	InMemory bool

	// SyncWrites makes every commit fsync. Slower but loses nothing on
	// power failure.
	SyncWrites bool
}

// NewBadgerTreeStore opens (or creates) the database at cfg.DBPath.
func NewBadgerTreeStore(ctx context.Context, cfg BadgerTreeStoreConfig) (*BadgerTreeStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.DBPath == "" {
		return nil, fmt.Errorf("badger db path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	log.Info().Str("path", cfg.DBPath).Bool("in_memory", cfg.InMemory).Msg("badger tree store opened")
	return &BadgerTreeStore{db: db}, nil
}

func itemKey(orgID, itemID string) []byte {
	return []byte("item/" + orgID + "/" + itemID)
}

func childKey(orgID string, parentID *string, itemID string) []byte {
	return []byte("child/" + orgID + "/" + parentMarker(parentID) + "/" + itemID)
}

func childPrefix(orgID, parentID string) []byte {
	return []byte("child/" + orgID + "/" + parentID + "/")
}

func parentMarker(parentID *string) string {
	if parentID == nil {
		return rootMarker
	}
	return *parentID
}

// getItemTxn loads and decodes an item inside a transaction.
func getItemTxn(txn *badger.Txn, orgID, itemID string) (*storage.Item, error) {
	entry, err := txn.Get(itemKey(orgID, itemID))
	if err == badger.ErrKeyNotFound {
		return nil, &storage.StoreError{
			Code:    storage.ErrNotFound,
			Message: "item not found",
			ItemID:  itemID,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item: %w", err)
	}

	var item storage.Item
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	return &item, nil
}

func setItemTxn(txn *badger.Txn, item *storage.Item) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", item.ID, err)
	}
	return txn.Set(itemKey(item.OrganizationID, item.ID), encoded)
}

// GetItem retrieves a single item by id within an organisation.
func (s *BadgerTreeStore) GetItem(ctx context.Context, orgID, itemID string) (*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var item *storage.Item
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		item, err = getItemTxn(txn, orgID, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListChildren returns the direct children of parentID via a prefix scan
// over the child index.
func (s *BadgerTreeStore) ListChildren(ctx context.Context, orgID string, parentID *string) ([]*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*storage.Item
	err := s.db.View(func(txn *badger.Txn) error {
		if parentID != nil {
			parent, err := getItemTxn(txn, orgID, *parentID)
			if err != nil {
				return err
			}
			if parent.Type != storage.ItemTypeFolder {
				return &storage.StoreError{
					Code:    storage.ErrInvalidArgument,
					Message: "parent is not a folder",
					ItemID:  *parentID,
				}
			}
		}

		ids, err := childIDsTxn(txn, orgID, parentMarker(parentID))
		if err != nil {
			return err
		}

		items = make([]*storage.Item, 0, len(ids))
		for _, id := range ids {
			item, err := getItemTxn(txn, orgID, id)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// childIDsTxn scans the child index for one parent.
func childIDsTxn(txn *badger.Txn, orgID, parentMarker string) ([]string, error) {
	prefix := childPrefix(orgID, parentMarker)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		ids = append(ids, string(key[len(prefix):]))
	}
	return ids, nil
}

// InsertItem persists a new item inside a single transaction.
func (s *BadgerTreeStore) InsertItem(ctx context.Context, item *storage.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item == nil || item.ID == "" || item.OrganizationID == "" {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "item id and organisation id are required",
		}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(itemKey(item.OrganizationID, item.ID)); err == nil {
			return &storage.StoreError{
				Code:    storage.ErrAlreadyExists,
				Message: "item id already exists",
				ItemID:  item.ID,
			}
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to check item existence: %w", err)
		}

		if item.ParentID != nil {
			if err := validateParentTxn(txn, item.OrganizationID, item.ID, *item.ParentID); err != nil {
				return err
			}
		}

		if err := setItemTxn(txn, item); err != nil {
			return err
		}
		return txn.Set(childKey(item.OrganizationID, item.ParentID, item.ID), nil)
	})
}

// validateParentTxn checks parent existence, type, tenancy and acyclicity
// within the enclosing transaction.
func validateParentTxn(txn *badger.Txn, orgID, itemID, parentID string) error {
	if parentID == itemID {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "item cannot be its own parent",
			ItemID:  itemID,
		}
	}

	parent, err := getItemTxn(txn, orgID, parentID)
	if err != nil {
		return err
	}
	if parent.Type != storage.ItemTypeFolder {
		return &storage.StoreError{
			Code:    storage.ErrInvalidArgument,
			Message: "parent is not a folder",
			ItemID:  parentID,
		}
	}

	// Walk up to the root. The walk is bounded; a cycle in stored data
	// would spin forever otherwise.
	const maxDepth = 4096
	for depth, cur := 0, parent; cur.ParentID != nil; depth++ {
		if depth > maxDepth {
			return &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "parent chain does not terminate",
				ItemID:  parentID,
			}
		}
		if *cur.ParentID == itemID {
			return &storage.StoreError{
				Code:    storage.ErrInvalidArgument,
				Message: "operation would create a parent cycle",
				ItemID:  itemID,
			}
		}
		cur, err = getItemTxn(txn, orgID, *cur.ParentID)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateItem atomically applies mutate to the stored item.
func (s *BadgerTreeStore) UpdateItem(ctx context.Context, orgID, itemID string, mutate func(*storage.Item) error) (*storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *storage.Item
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := getItemTxn(txn, orgID, itemID)
		if err != nil {
			return err
		}

		candidate := current.Clone()
		if err := mutate(candidate); err != nil {
			return err
		}

		// Identity, tenancy and tree position are immutable here.
		candidate.ID = current.ID
		candidate.OrganizationID = current.OrganizationID
		candidate.ParentID = current.ParentID
		candidate.Type = current.Type
		candidate.CreatedAt = current.CreatedAt
		candidate.UpdatedAt = time.Now().UTC()

		if err := setItemTxn(txn, candidate); err != nil {
			return err
		}
		updated = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSubtree removes the item and every descendant in one transaction.
//
// Badger aborts oversized transactions with ErrTxnTooBig; that error is
// surfaced unchanged rather than splitting the delete, because a split
// would break the all-or-nothing contract.
func (s *BadgerTreeStore) DeleteSubtree(ctx context.Context, orgID, itemID string) ([]storage.DeletedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var deleted []storage.DeletedItem
	err := s.db.Update(func(txn *badger.Txn) error {
		deleted = deleted[:0]

		root, err := getItemTxn(txn, orgID, itemID)
		if err != nil {
			return err
		}

		type node struct {
			item         *storage.Item
			parentMarker string
		}
		stack := []node{{item: root, parentMarker: parentMarker(root.ParentID)}}

		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			childIDs, err := childIDsTxn(txn, orgID, cur.item.ID)
			if err != nil {
				return err
			}
			for _, childID := range childIDs {
				child, err := getItemTxn(txn, orgID, childID)
				if err != nil {
					return err
				}
				stack = append(stack, node{item: child, parentMarker: cur.item.ID})
			}

			if err := txn.Delete(itemKey(orgID, cur.item.ID)); err != nil {
				return err
			}
			key := childPrefix(orgID, cur.parentMarker)
			if err := txn.Delete(append(key, cur.item.ID...)); err != nil {
				return err
			}

			deleted = append(deleted, storage.DeletedItem{
				ID:          cur.item.ID,
				Type:        cur.item.Type,
				StoragePath: cur.item.StoragePath,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Healthcheck verifies the database is open and writable.
func (s *BadgerTreeStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	return nil
}

// Close flushes and closes the underlying database.
func (s *BadgerTreeStore) Close() error {
	return s.db.Close()
}
