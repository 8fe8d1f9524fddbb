// Package badger provides a BadgerDB-backed audit sink.
//
// Entries are stored under audit/<organization>/<id>; ids are
// time-sortable, so an ascending prefix scan yields an organization's
// trail in chronological order. The sink only ever writes new keys,
// keeping the trail append-only at the storage level.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wardenfs/warden/pkg/audit"
)

// BadgerSink persists audit entries in a BadgerDB database.
type BadgerSink struct {
	db *badger.DB
}

// BadgerSinkConfig configures the Badger-backed audit sink.
type BadgerSinkConfig struct {
	// DBPath is the directory holding the database files.
	DBPath string

	// InMemory runs the database without files, for tests.
	InMemory bool

	// SyncWrites makes every write wait for fsync.
	SyncWrites bool
}

// NewBadgerSink opens (or creates) the audit database at the configured
// path.
func NewBadgerSink(cfg BadgerSinkConfig) (*BadgerSink, error) {
	opts := badger.DefaultOptions(cfg.DBPath).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	return &BadgerSink{db: db}, nil
}

func entryKey(orgID, id string) []byte {
	return []byte("audit/" + orgID + "/" + id)
}

// Append persists the entry.
func (s *BadgerSink) Append(entry audit.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.OrganizationID, entry.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}
	return nil
}

// ListByOrganization returns up to limit entries for one organization in
// chronological order. A non-positive limit returns everything.
func (s *BadgerSink) ListByOrganization(ctx context.Context, orgID string, limit int) ([]audit.Entry, error) {
	var entries []audit.Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte("audit/" + orgID + "/")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(entries) >= limit {
				return nil
			}

			err := it.Item().Value(func(val []byte) error {
				var entry audit.Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("failed to unmarshal audit entry: %w", err)
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database.
func (s *BadgerSink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close audit database: %w", err)
	}
	return nil
}
