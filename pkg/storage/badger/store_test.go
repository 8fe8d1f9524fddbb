package badger

import (
	"context"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenfs/warden/pkg/storage"
)

func newTestStore(t *testing.T) *BadgerTreeStore {
	t.Helper()
	store, err := NewBadgerTreeStore(context.Background(), BadgerTreeStoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func folder(org, id string, parentID *string) *storage.Item {
	return &storage.Item{
		ID:             id,
		OrganizationID: org,
		ParentID:       parentID,
		Type:           storage.ItemTypeFolder,
		Name:           id,
		OwnerID:        "alice",
		Visibility:     storage.VisibilityOrg,
	}
}

func file(org, id string, parentID *string) *storage.Item {
	return &storage.Item{
		ID:             id,
		OrganizationID: org,
		ParentID:       parentID,
		Type:           storage.ItemTypeFile,
		Name:           id + ".pdf",
		OwnerID:        "alice",
		Visibility:     storage.VisibilityPrivate,
		StoragePath:    "objects/" + org + "/" + id,
		MimeType:       "application/pdf",
		Size:           128,
	}
}

func TestBadgerInsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	original := file("o1", "doc", nil)
	original.UserIDs = []string{"bob"}
	require.NoError(t, store.InsertItem(ctx, original))

	got, err := store.GetItem(ctx, "o1", "doc")
	require.NoError(t, err)
	assert.Equal(t, original.Name, got.Name)
	assert.Equal(t, original.StoragePath, got.StoragePath)
	assert.Equal(t, original.Visibility, got.Visibility)
	assert.Equal(t, []string{"bob"}, got.UserIDs)
}

func TestBadgerTenancyIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, folder("o1", "f1", nil)))

	_, err := store.GetItem(ctx, "o2", "f1")
	code, ok := storage.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, storage.ErrNotFound, code)
}

func TestBadgerListChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, folder("o1", "root", nil)))
	root := "root"
	require.NoError(t, store.InsertItem(ctx, file("o1", "a", &root)))
	require.NoError(t, store.InsertItem(ctx, file("o1", "b", &root)))
	require.NoError(t, store.InsertItem(ctx, folder("o1", "other", nil)))

	roots, err := store.ListChildren(ctx, "o1", nil)
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	children, err := store.ListChildren(ctx, "o1", &root)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestBadgerInsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, file("o1", "doc", nil)))

	tests := []struct {
		name string
		item *storage.Item
		want storage.ErrorCode
	}{
		{"duplicate id", file("o1", "doc", nil), storage.ErrAlreadyExists},
		{"missing parent", file("o1", "x", strptr("nope")), storage.ErrNotFound},
		{"file as parent", file("o1", "y", strptr("doc")), storage.ErrInvalidArgument},
		{"self parent", folder("o1", "z", strptr("z")), storage.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.InsertItem(ctx, tt.item)
			code, ok := storage.CodeOf(err)
			require.True(t, ok, "expected StoreError, got %v", err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestBadgerUpdateItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, file("o1", "doc", nil)))

	updated, err := store.UpdateItem(ctx, "o1", "doc", func(item *storage.Item) error {
		item.Name = "renamed.pdf"
		item.OrganizationID = "o2"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", updated.Name)
	assert.Equal(t, "o1", updated.OrganizationID, "tenancy is immutable")

	got, err := store.GetItem(ctx, "o1", "doc")
	require.NoError(t, err)
	assert.Equal(t, "renamed.pdf", got.Name)
}

func TestBadgerUpdateAbortLeavesStateUntouched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, file("o1", "doc", nil)))

	sentinel := &storage.StoreError{Code: storage.ErrValidationFailed, Message: "rejected"}
	_, err := store.UpdateItem(ctx, "o1", "doc", func(item *storage.Item) error {
		item.Name = "must-not-persist"
		return sentinel
	})
	require.Error(t, err)

	got, err := store.GetItem(ctx, "o1", "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", got.Name)
}

func TestBadgerDeleteSubtree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, folder("o1", "root", nil)))
	root := "root"
	require.NoError(t, store.InsertItem(ctx, folder("o1", "sub", &root)))
	sub := "sub"
	require.NoError(t, store.InsertItem(ctx, file("o1", "f1", &sub)))
	require.NoError(t, store.InsertItem(ctx, file("o1", "f2", &sub)))

	deleted, err := store.DeleteSubtree(ctx, "o1", "root")
	require.NoError(t, err)
	assert.Len(t, deleted, 4)
	assert.Equal(t, "root", deleted[0].ID)

	for _, id := range []string{"root", "sub", "f1", "f2"} {
		_, err := store.GetItem(ctx, "o1", id)
		code, ok := storage.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, storage.ErrNotFound, code)
	}

	roots, err := store.ListChildren(ctx, "o1", nil)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestBadgerDeleteSubtreeFailureLeavesTreeIntact(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertItem(ctx, folder("o1", "root", nil)))
	root := "root"
	require.NoError(t, store.InsertItem(ctx, folder("o1", "sub", &root)))
	sub := "sub"
	require.NoError(t, store.InsertItem(ctx, file("o1", "f1", &sub)))
	require.NoError(t, store.InsertItem(ctx, file("o1", "f2", &sub)))

	// Corrupt the deepest record so the cascade fails after the root and
	// intermediate folder have already been deleted inside the
	// transaction.
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey("o1", "f2"), []byte("not json"))
	}))

	_, err := store.DeleteSubtree(ctx, "o1", "root")
	require.Error(t, err)

	// All-or-nothing: the aborted transaction left every readable node
	// and the child index in place.
	for _, id := range []string{"root", "sub", "f1"} {
		_, err := store.GetItem(ctx, "o1", id)
		require.NoError(t, err, "item %s must survive the failed cascade", id)
	}

	roots, err := store.ListChildren(ctx, "o1", nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root", roots[0].ID)

	children, err := store.ListChildren(ctx, "o1", &root)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "sub", children[0].ID)
}

func TestBadgerPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerTreeStore(ctx, BadgerTreeStoreConfig{DBPath: dir})
	require.NoError(t, err)
	require.NoError(t, store.InsertItem(ctx, file("o1", "doc", nil)))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerTreeStore(ctx, BadgerTreeStoreConfig{DBPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetItem(ctx, "o1", "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", got.Name)
}

func strptr(s string) *string { return &s }
