package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

func openTestStore(t *testing.T, root string) *store.Store {
	t.Helper()
	dir, err := Open(root)
	require.NoError(t, err)
	s, err := store.Open(context.Background(), dir, store.WithIDGenerator(changeset.NewSequenceGenerator("m")))
	require.NoError(t, err)
	return s
}

func create(t *testing.T, s *store.Store, typ string, attrs map[string]any) {
	t.Helper()
	_, err := s.Transaction(context.Background(), func(ctx context.Context, tx *store.Tx) error {
		_, err := tx.New(typ, attrs)
		return err
	})
	require.NoError(t, err)
}

func TestDirLayout(t *testing.T) {
	root := t.TempDir()
	s := openTestStore(t, root)

	create(t, s, "main", map[string]any{"started": false})
	create(t, s, "main", map[string]any{"started": true})
	create(t, s, "main", map[string]any{"started": false})

	assert.FileExists(t, filepath.Join(root, "data.yml"))
	assert.FileExists(t, filepath.Join(root, "versions", "000001.yml"))
	assert.FileExists(t, filepath.Join(root, "versions", "000002.yml"))
	assert.NoFileExists(t, filepath.Join(root, "versions", "000003.yml"))

	raw, err := os.ReadFile(filepath.Join(root, "versions", "000001.yml"))
	require.NoError(t, err)
	assert.Equal(t, "main:\n    m-1:\n        id: m-1\n        started: false\n", string(raw))
}

func TestDirReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openTestStore(t, root)
	create(t, s, "main", map[string]any{})
	create(t, s, "main", map[string]any{})

	reopened := openTestStore(t, root)
	assert.Equal(t, 2, reopened.Head())

	versions, err := reopened.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	first, err := versions[0].All(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, first, 1)

	latest, err := reopened.All(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestDirRestoreWritesNewFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openTestStore(t, root)
	create(t, s, "main", map[string]any{})
	create(t, s, "main", map[string]any{})

	_, v, err := s.Restore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Number)
	assert.FileExists(t, filepath.Join(root, "versions", "000002.yml"))

	data, err := ReadFile(filepath.Join(root, "data.yml"))
	require.NoError(t, err)
	assert.Equal(t, 1, data.Len())
}

func TestDirRecoversFromMissingData(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openTestStore(t, root)
	create(t, s, "main", map[string]any{})
	create(t, s, "main", map[string]any{})

	// Simulate a crash after archiving the head but before writing the
	// new data file.
	dir, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, os.Rename(dir.DataPath(), dir.VersionPath(2)))

	head, err := dir.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, head)

	data, err := dir.Read(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, data.Len())

	require.NoError(t, dir.Append(ctx, 3, changeset.Dataset{}))
	head, err = dir.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, head)
}

func TestDirVersionNamesAreSixDigits(t *testing.T) {
	dir, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "000001.yml", filepath.Base(dir.VersionPath(1)))
	assert.Equal(t, "001234.yml", filepath.Base(dir.VersionPath(1234)))
}

func TestDirReportsGapInVersions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := openTestStore(t, root)
	create(t, s, "main", map[string]any{})
	create(t, s, "main", map[string]any{})
	create(t, s, "main", map[string]any{})

	dir, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(dir.VersionPath(1)))

	_, err = dir.Head(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 000001.yml, found 000002.yml")
}

func TestDirRejectsOutOfOrderAppend(t *testing.T) {
	dir, err := Open(t.TempDir())
	require.NoError(t, err)
	err = dir.Append(context.Background(), 2, changeset.Dataset{})
	assert.Error(t, err)
}

func TestDecodeRejectsFloats(t *testing.T) {
	_, err := Decode([]byte("main:\n  m1:\n    score: 1.5\n"))
	require.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	data := changeset.Dataset{"main": {"m1": value.Object{"id": value.String("m1"), "n": value.Int(2)}}}
	raw, err := Encode(data)
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, data.Equal(back))

	empty, err := Decode(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
