package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/cascade/internal/changelog"
	"github.com/roach88/cascade/internal/snapshot"
	"github.com/roach88/cascade/internal/store"
)

// Handle is an opened store together with the resources backing it.
type Handle struct {
	Store   *store.Store
	Backend *snapshot.Dir
	Journal *changelog.Log // nil when journaling is off
}

// Close releases the journal connection.
func (h *Handle) Close() error {
	if h == nil || h.Journal == nil {
		return nil
	}
	return h.Journal.Close()
}

// OpenStore opens the configured snapshot directory and journal and
// returns a store using the configured registry. Extra options are applied
// after the configured ones.
func (c *Config) OpenStore(ctx context.Context, opts ...store.Option) (*Handle, error) {
	dir, err := snapshot.Open(c.StoreDir())
	if err != nil {
		return nil, fmt.Errorf("open snapshots: %w", err)
	}
	h := &Handle{Backend: dir}

	base := []store.Option{
		store.WithRegistry(c.Registry()),
		store.WithCacheSize(c.Store.Cache),
	}
	if path := c.JournalPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		log, err := changelog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		h.Journal = log
		base = append(base, store.WithJournal(log))
	}

	s, err := store.Open(ctx, dir, append(base, opts...)...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open store: %w", err), h.Close())
	}
	h.Store = s
	return h, nil
}
