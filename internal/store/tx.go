package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/value"
)

type txKey struct{ c *core }

// Tx buffers the creates and updates of one transaction. Reads through a
// Tx see the committed head plus the transaction's own buffered writes.
//
// A Tx is only valid inside the body passed to Store.Transaction.
type Tx struct {
	store *Store

	mu     sync.Mutex
	cs     *changeset.Changeset
	view   changeset.Dataset
	closed bool
}

// Transaction runs body with a fresh transaction. When body returns nil the
// buffered changeset is committed as a new version; the returned Version is
// nil when the commit left the dataset unchanged. When body returns an error
// or panics nothing is committed and the error (or panic) propagates.
//
// Opening a transaction on a context that already carries one for this
// store fails with ErrNestedTransaction.
func (s *Store) Transaction(ctx context.Context, body func(ctx context.Context, tx *Tx) error) (*Version, error) {
	if s.ReadOnly() {
		return nil, ErrReadOnly
	}
	if _, open := ctx.Value(txKey{s.core}).(*Tx); open {
		return nil, ErrNestedTransaction
	}

	tx := &Tx{store: s, cs: changeset.New()}
	txCtx := context.WithValue(ctx, txKey{s.core}, tx)

	if err := runBody(txCtx, tx, body); err != nil {
		return nil, err
	}

	commit, err := s.core.commit(ctx, tx.cs, false)
	if commit == nil {
		return nil, err
	}
	return &Version{Number: commit.Version, hash: commit.Hash, store: s}, nil
}

// runBody closes tx however body exits.
func runBody(ctx context.Context, tx *Tx, body func(context.Context, *Tx) error) error {
	defer tx.close()
	return body(ctx, tx)
}

// InTransaction reports whether ctx carries an open transaction on s.
func (s *Store) InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{s.core}).(*Tx)
	return ok
}

func (tx *Tx) close() {
	tx.mu.Lock()
	tx.closed = true
	tx.mu.Unlock()
}

// ensureView lazily copies the committed head. Callers hold tx.mu.
func (tx *Tx) ensureView() {
	if tx.view == nil {
		_, data, _ := tx.store.core.latest()
		tx.view = data.Clone()
	}
}

// Create buffers a new record of typ. The returned record carries the
// generated id and the type's defaults.
func (tx *Tx) Create(typ string, attrs value.Object) (Record, error) {
	if reg := tx.store.core.opts.registry; reg != nil {
		if _, err := reg.Build(typ, attrs); err != nil {
			return Record{}, fmt.Errorf("create %s: %w", typ, err)
		}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return Record{}, ErrTxClosed
	}
	tx.ensureView()

	d := changeset.NewCreate(tx.store.core.opts.ids, typ, attrs)
	if _, err := d.Apply(&tx.view); err != nil {
		return Record{}, fmt.Errorf("create %s: %w", typ, err)
	}
	tx.cs.Add(d)
	return tx.reader().materialize(typ, d.ID(), d.Attributes), nil
}

// Update buffers a partial update of rec and returns the record as it
// will read after the update.
func (tx *Tx) Update(rec Record, partial value.Object) (Record, error) {
	if reg := tx.store.core.opts.registry; reg != nil {
		rt, err := reg.TypeFor(rec.Type)
		if err != nil {
			return Record{}, fmt.Errorf("update %s: %w", rec.Key(), err)
		}
		if err := rt.Check(partial); err != nil {
			return Record{}, fmt.Errorf("update %s: %w", rec.Key(), err)
		}
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return Record{}, ErrTxClosed
	}
	tx.ensureView()

	d := changeset.NewUpdate(rec.Type, rec.ID, partial)
	if _, err := d.Apply(&tx.view); err != nil {
		return Record{}, fmt.Errorf("update %s: %w", rec.Key(), err)
	}
	tx.cs.Add(d)
	attrs, _ := tx.view.Get(rec.Type, rec.ID)
	return tx.reader().materialize(rec.Type, rec.ID, attrs), nil
}

// Set is Update with a plain Go map.
func (tx *Tx) Set(rec Record, partial map[string]any) (Record, error) {
	obj, err := value.ObjectFrom(partial)
	if err != nil {
		return Record{}, fmt.Errorf("update %s: %w", rec.Key(), err)
	}
	return tx.Update(rec, obj)
}

// New is Create with a plain Go map.
func (tx *Tx) New(typ string, attrs map[string]any) (Record, error) {
	obj, err := value.ObjectFrom(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", typ, err)
	}
	return tx.Create(typ, obj)
}

// Len returns the number of buffered deltas.
func (tx *Tx) Len() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.cs.Len()
}

func (tx *Tx) reader() view {
	return view{data: tx.view, reg: tx.store.core.opts.registry}
}

// snapshot returns a reader over the transaction's current view.
func (tx *Tx) snapshot() (view, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return view{}, ErrTxClosed
	}
	if tx.view == nil {
		_, data, _ := tx.store.core.latest()
		return view{data: data, reg: tx.store.core.opts.registry}, nil
	}
	return view{data: tx.view.Clone(), reg: tx.store.core.opts.registry}, nil
}

// All implements Reader.
func (tx *Tx) All(ctx context.Context, typ string) ([]Record, error) {
	return tx.Where(ctx, typ, nil)
}

// Where implements Reader.
func (tx *Tx) Where(_ context.Context, typ string, p query.Predicate) ([]Record, error) {
	v, err := tx.snapshot()
	if err != nil {
		return nil, err
	}
	return v.where(typ, p), nil
}

// Find implements Reader.
func (tx *Tx) Find(_ context.Context, typ, id string) (Record, error) {
	v, err := tx.snapshot()
	if err != nil {
		return Record{}, err
	}
	return v.find(typ, id)
}
