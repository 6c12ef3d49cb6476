package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/store"
)

// ErrAlreadyLocked is returned by Lock for a key that is already held.
var ErrAlreadyLocked = errors.New("record is already locked")

// Locker tracks which (work, record) pairs are being processed so the same
// producer never runs twice on one record at the same time.
//
// A lock is keyed by (work id, record type, record id). Different work ids
// may hold the same record concurrently.
//
// Locks are not reentrant: callers check Locked before Lock. The processor
// releases every lock it takes with a deferred Unlock, so a failing or
// panicking unit of work never leaves its record blocked.
//
// Thread-safe: Can be called concurrently.
type Locker struct {
	mu   sync.Mutex
	held map[lockKey]struct{}
}

type lockKey struct {
	work string
	typ  string
	id   string
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[lockKey]struct{})}
}

func keyOf(work string, rec store.Record) lockKey {
	return lockKey{work: work, typ: rec.Type, id: rec.ID}
}

// Locked reports whether rec is held for work.
func (l *Locker) Locked(work string, rec store.Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.held[keyOf(work, rec)]
	return ok
}

// Lock marks rec as held for work. Locking a held key returns
// ErrAlreadyLocked and leaves the existing lock in place.
func (l *Locker) Lock(work string, rec store.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := keyOf(work, rec)
	if _, ok := l.held[k]; ok {
		return fmt.Errorf("%w: %s %s", ErrAlreadyLocked, work, rec.Key())
	}
	l.held[k] = struct{}{}
	return nil
}

// Unlock releases rec for work. Unlocking a key that is not held is a no-op.
func (l *Locker) Unlock(work string, rec store.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, keyOf(work, rec))
}

// Len returns the number of held locks.
//
// Used for testing and introspection.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.held)
}
