package changelog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/store"
)

// createTestLog opens a journal in a temp directory.
func createTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changelog.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// createJournaledStore opens an in-memory store that journals into l.
func createJournaledStore(t *testing.T, l *Log, backend store.Backend) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), backend,
		store.WithJournal(l),
		store.WithIDGenerator(changeset.NewSequenceGenerator("r")))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	return s
}

// flakyBackend fails the first failures appends.
type flakyBackend struct {
	*store.MemoryBackend
	failures int
}

func (b *flakyBackend) Append(ctx context.Context, n int, data changeset.Dataset) error {
	if b.failures > 0 {
		b.failures--
		return errors.New("snapshot write failed")
	}
	return b.MemoryBackend.Append(ctx, n, data)
}
