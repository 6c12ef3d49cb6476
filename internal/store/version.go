package store

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/query"
)

// Version is one committed snapshot. Versions are immutable.
type Version struct {
	Number int

	hash  string
	store *Store
}

// Versions lists every committed version, oldest first.
func (s *Store) Versions(ctx context.Context) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	head := s.Head()
	out := make([]*Version, 0, head)
	for n := 1; n <= head; n++ {
		out = append(out, &Version{Number: n, store: s})
	}
	return out, nil
}

// Version returns version n.
func (s *Store) Version(n int) (*Version, error) {
	if n < 1 || n > s.Head() {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, n)
	}
	return &Version{Number: n, store: s}, nil
}

// Data returns a copy of the version's dataset.
func (v *Version) Data(ctx context.Context) (changeset.Dataset, error) {
	data, err := v.store.core.load(ctx, v.Number)
	if err != nil {
		return nil, err
	}
	return data.Clone(), nil
}

// Hash returns the snapshot hash of the version.
func (v *Version) Hash(ctx context.Context) (string, error) {
	if v.hash != "" {
		return v.hash, nil
	}
	data, err := v.store.core.load(ctx, v.Number)
	if err != nil {
		return "", err
	}
	h, err := data.Hash()
	if err != nil {
		return "", err
	}
	v.hash = h
	return h, nil
}

// Store returns a read-only store pinned to this version.
func (v *Version) Store() *Store {
	return &Store{core: v.store.core, pinned: v.Number}
}

// All returns the version's records of typ.
func (v *Version) All(ctx context.Context, typ string) ([]Record, error) {
	return v.Store().All(ctx, typ)
}

// Where returns the version's records of typ matching p.
func (v *Version) Where(ctx context.Context, typ string, p query.Predicate) ([]Record, error) {
	return v.Store().Where(ctx, typ, p)
}

// Find returns one record of the version.
func (v *Version) Find(ctx context.Context, typ, id string) (Record, error) {
	return v.Store().Find(ctx, typ, id)
}

// Restore makes this version's data current again. See Store.Restore.
func (v *Version) Restore(ctx context.Context) (*Store, *Version, error) {
	return v.store.Restore(ctx, v.Number)
}

// Restore appends a new version whose data equals version n and returns
// the live store. History is kept: versions after n remain listed. The new
// version is appended even when its data equals the current data.
//
// Restoring the current version fails with ErrNothingToRestore.
func (s *Store) Restore(ctx context.Context, n int) (*Store, *Version, error) {
	if n == 0 && s.pinned != 0 {
		n = s.pinned
	}
	live := &Store{core: s.core}
	head := s.Head()
	if n < 1 || n > head {
		return nil, nil, fmt.Errorf("restore: %w: %d", ErrVersionNotFound, n)
	}
	if n == head {
		return nil, nil, fmt.Errorf("restore version %d: %w", n, ErrNothingToRestore)
	}

	data, err := s.core.load(ctx, n)
	if err != nil {
		return nil, nil, fmt.Errorf("restore version %d: %w", n, err)
	}
	commit, err := s.core.commit(ctx, changeset.New(changeset.NewInitial(data)), true)
	if err != nil {
		return nil, nil, fmt.Errorf("restore version %d: %w", n, err)
	}
	s.core.opts.logger.Info("version restored", "from", n, "version", commit.Version)
	return live, &Version{Number: commit.Version, hash: commit.Hash, store: live}, nil
}
