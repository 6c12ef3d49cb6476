package changelog

import (
	"context"
	"fmt"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

var _ store.Journal = (*Log)(nil)

// Record implements store.Journal. Writing a version that is already
// journaled replaces its entry and its changes, since the store journals a
// version before persisting it and a failed persist is retried under the
// same number.
func (l *Log) Record(ctx context.Context, c store.Commit) error {
	csObj, err := c.Changeset.Object()
	if err != nil {
		return fmt.Errorf("record version %d: %w", c.Version, err)
	}
	csJSON, err := value.MarshalCanonical(csObj)
	if err != nil {
		return fmt.Errorf("record version %d: %w", c.Version, err)
	}
	csHash, err := c.Changeset.Hash()
	if err != nil {
		return fmt.Errorf("record version %d: %w", c.Version, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record version %d: begin tx: %w", c.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE version = ?`, c.Version); err != nil {
		return fmt.Errorf("record version %d: %w", c.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (version, hash, parent_hash, changeset, changeset_hash, delta_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			hash = excluded.hash,
			parent_hash = excluded.parent_hash,
			changeset = excluded.changeset,
			changeset_hash = excluded.changeset_hash,
			delta_count = excluded.delta_count
	`, c.Version, c.Hash, c.ParentHash, string(csJSON), csHash, c.Changeset.Len()); err != nil {
		return fmt.Errorf("record version %d: %w", c.Version, err)
	}

	for i, d := range c.Changeset.Deltas {
		obj, err := changeset.DeltaObject(d)
		if err != nil {
			return fmt.Errorf("record version %d: delta %d: %w", c.Version, i, err)
		}
		payload, err := value.MarshalCanonical(obj)
		if err != nil {
			return fmt.Errorf("record version %d: delta %d: %w", c.Version, i, err)
		}
		typ, id := deltaKey(d)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO changes (version, idx, action, type, record_id, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.Version, i, string(d.Action()), typ, id, string(payload)); err != nil {
			return fmt.Errorf("record version %d: delta %d: %w", c.Version, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record version %d: commit: %w", c.Version, err)
	}
	return nil
}

func deltaKey(d changeset.Delta) (typ, id string) {
	switch v := d.(type) {
	case *changeset.Create:
		return v.Type, v.ID()
	case *changeset.Update:
		return v.Type, v.ID
	}
	return "", ""
}
