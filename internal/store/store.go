package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/schema"
)

const defaultCacheSize = 32

// Commit describes one committed version. It is handed to the journal and
// to commit hooks after the snapshot is durable.
type Commit struct {
	Version    int
	Hash       string
	ParentHash string
	Changeset  *changeset.Changeset
}

// Journal records committed changesets. The changelog package provides a
// SQLite implementation.
//
// Record is called before the version becomes visible; an error aborts the
// commit. Recording a version that already has an entry replaces it.
type Journal interface {
	Record(ctx context.Context, c Commit) error
}

// Reader is the read side shared by live stores, pinned stores and
// transactions.
type Reader interface {
	All(ctx context.Context, typ string) ([]Record, error)
	Where(ctx context.Context, typ string, p query.Predicate) ([]Record, error)
	Find(ctx context.Context, typ, id string) (Record, error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	registry  *schema.Registry
	journal   Journal
	ids       changeset.IDGenerator
	logger    *slog.Logger
	cacheSize int
	hooks     []func(Commit)
}

// WithRegistry validates writes against reg and applies its defaults on
// reads. Without a registry every type and attribute is accepted.
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithJournal appends every commit to j.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithIDGenerator sets the id source for created records.
func WithIDGenerator(g changeset.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheSize bounds the number of historical snapshots kept in memory.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithCommitHook registers fn to run after every commit, inside the commit
// critical section. fn must not call back into the store.
func WithCommitHook(fn func(Commit)) Option {
	return func(o *options) { o.hooks = append(o.hooks, fn) }
}

// core is the state shared between a live store and its pinned views.
type core struct {
	opts    options
	backend Backend
	cache   *lru.Cache[int, changeset.Dataset]

	// commitMu is the single critical section around read-latest, apply,
	// persist and advance-head.
	commitMu sync.Mutex

	headMu sync.RWMutex
	head   int
	data   changeset.Dataset
	hash   string
}

// Store is a versioned, transactional record store. Every commit that
// changes the dataset produces a new immutable version.
//
// A Store is either live (writable, reads the latest version) or pinned to
// a historical version (read-only).
type Store struct {
	core   *core
	pinned int
}

// Open loads the latest version from backend.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	o := options{
		ids:       changeset.UUIDv7Generator{},
		logger:    slog.Default(),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize < 1 {
		o.cacheSize = 1
	}

	cache, err := lru.New[int, changeset.Dataset](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c := &core{opts: o, backend: backend, cache: cache, data: changeset.Dataset{}}

	head, err := backend.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if head > 0 {
		data, err := backend.Read(ctx, head)
		if err != nil {
			return nil, fmt.Errorf("open store: read version %d: %w", head, err)
		}
		c.data = data
		c.head = head
	}
	c.hash, err = c.data.Hash()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	o.logger.Debug("store opened", "head", c.head, "records", c.data.Len())
	return &Store{core: c}, nil
}

// Registry returns the configured registry, or nil.
func (s *Store) Registry() *schema.Registry {
	return s.core.opts.registry
}

// Head returns the latest committed version number, 0 for a new store.
func (s *Store) Head() int {
	s.core.headMu.RLock()
	defer s.core.headMu.RUnlock()
	return s.core.head
}

// Pinned returns the version this store is pinned to, or 0 when live.
func (s *Store) Pinned() int {
	return s.pinned
}

// ReadOnly reports whether writes are rejected.
func (s *Store) ReadOnly() bool {
	return s.pinned != 0
}

// latest returns the committed head. The dataset must not be modified.
func (c *core) latest() (int, changeset.Dataset, string) {
	c.headMu.RLock()
	defer c.headMu.RUnlock()
	return c.head, c.data, c.hash
}

// dataset returns the data this store reads from.
func (s *Store) dataset(ctx context.Context) (changeset.Dataset, error) {
	if s.pinned == 0 {
		_, data, _ := s.core.latest()
		return data, nil
	}
	return s.core.load(ctx, s.pinned)
}

// load returns version n, from the head, the cache or the backend.
func (c *core) load(ctx context.Context, n int) (changeset.Dataset, error) {
	head, data, _ := c.latest()
	if n == head && head > 0 {
		return data, nil
	}
	if n < 1 || n > head {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, n)
	}
	if data, ok := c.cache.Get(n); ok {
		return data, nil
	}
	data, err := c.backend.Read(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read version %d: %w", n, err)
	}
	c.cache.Add(n, data)
	return data, nil
}

func (s *Store) view(ctx context.Context) (view, error) {
	data, err := s.dataset(ctx)
	if err != nil {
		return view{}, err
	}
	return view{data: data, reg: s.core.opts.registry}, nil
}

// All returns every record of typ, ordered by id.
func (s *Store) All(ctx context.Context, typ string) ([]Record, error) {
	return s.Where(ctx, typ, nil)
}

// Where returns the records of typ matching p, ordered by id.
func (s *Store) Where(ctx context.Context, typ string, p query.Predicate) ([]Record, error) {
	v, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	return v.where(typ, p), nil
}

// Find returns one record by id.
func (s *Store) Find(ctx context.Context, typ, id string) (Record, error) {
	v, err := s.view(ctx)
	if err != nil {
		return Record{}, err
	}
	return v.find(typ, id)
}

// Count returns the number of records of typ.
func (s *Store) Count(ctx context.Context, typ string) (int, error) {
	data, err := s.dataset(ctx)
	if err != nil {
		return 0, err
	}
	return len(data[typ]), nil
}

// Snapshot returns a copy of the dataset this store reads from.
func (s *Store) Snapshot(ctx context.Context) (changeset.Dataset, error) {
	data, err := s.dataset(ctx)
	if err != nil {
		return nil, err
	}
	return data.Clone(), nil
}

// commit applies cs on top of the latest version. It returns nil when the
// result is identical to the latest version, unless force is set.
//
// The journal is written before the snapshot, so a journal failure leaves
// the store unchanged. A snapshot failure after a successful journal write
// leaves an entry for a version that does not exist yet; the next commit of
// that version overwrites it.
func (c *core) commit(ctx context.Context, cs *changeset.Changeset, force bool) (*Commit, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	head, latest, parentHash := c.latest()
	next := latest.Clone()
	if _, err := cs.Apply(&next); err != nil {
		return nil, err
	}
	hash, err := next.Hash()
	if err != nil {
		return nil, err
	}
	if hash == parentHash && !force {
		c.opts.logger.Debug("commit skipped, no net change", "head", head, "deltas", cs.Len())
		return nil, nil
	}

	n := head + 1
	commit := &Commit{Version: n, Hash: hash, ParentHash: parentHash, Changeset: cs}
	if c.opts.journal != nil {
		if err := c.opts.journal.Record(ctx, *commit); err != nil {
			c.opts.logger.Error("journal write failed", "version", n, "error", err)
			return nil, fmt.Errorf("journal version %d: %w", n, err)
		}
	}
	if err := c.backend.Append(ctx, n, next); err != nil {
		return nil, fmt.Errorf("persist version %d: %w", n, err)
	}

	c.headMu.Lock()
	c.head, c.data, c.hash = n, next, hash
	c.headMu.Unlock()
	c.cache.Add(n, next)

	c.opts.logger.Debug("version committed", "version", n, "hash", hash[:12], "deltas", cs.Len())
	for _, hook := range c.opts.hooks {
		hook(*commit)
	}
	return commit, nil
}
