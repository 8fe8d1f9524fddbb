package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenfs/warden/pkg/audit"
)

func newTestSink(t *testing.T) *BadgerSink {
	t.Helper()

	sink, err := NewBadgerSink(BadgerSinkConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sink.Close())
	})
	return sink
}

func TestAppendAndList(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := sink.Append(audit.Entry{
			// Zero-padded ids keep the expected chronological order.
			ID:             fmt.Sprintf("entry-%03d", i),
			Action:         audit.ActionFileCreated,
			ActorUserID:    "alice",
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
	}

	entries, err := sink.ListByOrganization(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("entry-%03d", i), entry.ID)
	}
}

func TestListIsTenantScoped(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Append(audit.Entry{ID: "a", OrganizationID: "org-1", Action: audit.ActionItemDeleted}))
	require.NoError(t, sink.Append(audit.Entry{ID: "b", OrganizationID: "org-2", Action: audit.ActionItemDeleted}))

	entries, err := sink.ListByOrganization(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
}

func TestListHonorsLimit(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, sink.Append(audit.Entry{
			ID:             fmt.Sprintf("entry-%03d", i),
			OrganizationID: "org-1",
			Action:         audit.ActionAccessDenied,
		}))
	}

	entries, err := sink.ListByOrganization(ctx, "org-1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewBadgerSink(BadgerSinkConfig{DBPath: dir})
	require.NoError(t, err)
	require.NoError(t, sink.Append(audit.Entry{ID: "a", OrganizationID: "org-1", Action: audit.ActionItemRenamed}))
	require.NoError(t, sink.Close())

	reopened, err := NewBadgerSink(BadgerSinkConfig{DBPath: dir})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	entries, err := reopened.ListByOrganization(context.Background(), "org-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionItemRenamed, entries[0].Action)
}
