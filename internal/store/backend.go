package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/changeset"
)

// Backend persists committed snapshots. Version numbers start at 1 and are
// contiguous; a backend with no versions has Head 0.
//
// The store serialises Append calls; implementations only need to make
// Read safe to call concurrently with Append.
type Backend interface {
	// Head returns the latest version number, 0 when empty.
	Head(ctx context.Context) (int, error)
	// Read returns the dataset stored as version n.
	Read(ctx context.Context, n int) (changeset.Dataset, error)
	// Append stores data as version n, which is always Head()+1.
	Append(ctx context.Context, n int, data changeset.Dataset) error
}

// MemoryBackend keeps every snapshot in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	versions []changeset.Dataset
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Head implements Backend.
func (b *MemoryBackend) Head(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.versions), nil
}

// Read implements Backend.
func (b *MemoryBackend) Read(_ context.Context, n int) (changeset.Dataset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n < 1 || n > len(b.versions) {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, n)
	}
	return b.versions[n-1].Clone(), nil
}

// Append implements Backend.
func (b *MemoryBackend) Append(_ context.Context, n int, data changeset.Dataset) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n != len(b.versions)+1 {
		return fmt.Errorf("append version %d: head is %d", n, len(b.versions))
	}
	b.versions = append(b.versions, data.Clone())
	return nil
}
