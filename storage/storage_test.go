package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, ObjectNodeConfig, []byte(`{"first":true}`)))

	b, err := store.Read(ctx, ObjectNodeConfig)
	require.NoError(t, err)
	require.Equal(t, `{"first":true}`, string(b))
}

func TestFileStoreReadMissingReturnsErrDoesNotExist(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Read(context.Background(), ObjectSectionTree)
	require.ErrorIs(t, err, ErrDoesNotExist)
}

func TestFileStoreWriteLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write(context.Background(), ObjectSectionTree, []byte("data")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "section_tree.dat", entries[0].Name())
}

func TestFileStoreClearRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), ObjectNodeConfig, []byte("x")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blobs"), 0o700))

	require.NoError(t, store.Clear(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}
