package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, opts Options) (*FileStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "scans.json")
	store, err := NewFileStore(path, opts)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, path
}

func TestFileStore_EnsureSchemaCreatesEmptyArray(t *testing.T) {
	_, path := newTestFileStore(t, Options{})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestFileStore_AppendAssignsSequentialIDs(t *testing.T) {
	store, _ := newTestFileStore(t, Options{Now: steppingClock(baseTime, time.Second)})
	ctx := context.Background()

	first, err := store.Append(ctx, sampleInput(t, "Caterpillar Infestation", 92))
	require.NoError(t, err)
	in := sampleInput(t, "Healthy Coconut", 40)
	in.ClientID = "ignored-by-file-store"
	second, err := store.Append(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
	assert.Equal(t, baseTime, first.ReceivedAt)
	assert.Empty(t, second.ClientID)

	records, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[0].ID)
	assert.Equal(t, "Healthy Coconut", records[0].DisplayName)
	assert.Equal(t, &Location{Latitude: 10.5, Longitude: 76.2}, records[1].Location)
	assert.Equal(t, 0.92, records[1].Predictions["CCI_Caterpillars"])
}

func TestFileStore_ListRecentTieBreaksByInsertion(t *testing.T) {
	store, _ := newTestFileStore(t, Options{Now: fixedClock(baseTime)})
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, sampleInput(t, name, 60))
		require.NoError(t, err)
	}

	records, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].DisplayName)
	assert.Equal(t, "b", records[1].DisplayName)
}

func TestFileStore_EmptyFileListsNothing(t *testing.T) {
	store, path := newTestFileStore(t, Options{})
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	records, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_CorruptFileIsUnavailable(t *testing.T) {
	store, path := newTestFileStore(t, Options{})
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := store.ListRecent(context.Background(), 10)
	assert.True(t, IsUnavailable(err))

	_, err = store.Append(context.Background(), sampleInput(t, "Leaf Yellowing Disease", 55))
	assert.True(t, IsUnavailable(err))

	// the corrupt file is left untouched
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "{not json", string(data))
}

func TestFileStore_InvalidRecordIsRejected(t *testing.T) {
	store, _ := newTestFileStore(t, Options{})

	_, err := store.Append(context.Background(), sampleInput(t, "", 55))
	assert.True(t, IsInvalid(err))

	records, listErr := store.ListRecent(context.Background(), 10)
	require.NoError(t, listErr)
	assert.Empty(t, records)
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore("  ", Options{})
	assert.Error(t, err)
}
