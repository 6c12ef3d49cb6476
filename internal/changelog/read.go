package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cascade/internal/changeset"
)

// Entry is one journaled commit.
type Entry struct {
	Version       int
	Hash          string
	ParentHash    string
	ChangesetHash string
	Changeset     *changeset.Changeset
}

// Change is one journaled delta, addressable by record.
type Change struct {
	Version  int
	Index    int
	Action   changeset.Action
	Type     string
	RecordID string
	Payload  string
}

var (
	// ErrNoEntry is returned when a version has no journal entry.
	ErrNoEntry = errors.New("no journal entry")

	// ErrCorruptEntry is returned when a stored changeset no longer hashes
	// to the value recorded with it.
	ErrCorruptEntry = errors.New("corrupt journal entry")
)

// Entries returns every journaled commit ordered by version.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	return l.entries(ctx, 0)
}

// EntriesUpTo returns journaled commits with version <= upTo.
func (l *Log) EntriesUpTo(ctx context.Context, upTo int) ([]Entry, error) {
	return l.entries(ctx, upTo)
}

func (l *Log) entries(ctx context.Context, upTo int) ([]Entry, error) {
	q := `SELECT version, hash, parent_hash, changeset_hash, changeset FROM commits`
	var args []any
	if upTo > 0 {
		q += ` WHERE version <= ?`
		args = append(args, upTo)
	}
	q += ` ORDER BY version ASC`

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Entry returns the journaled commit for version n.
func (l *Log) Entry(ctx context.Context, n int) (Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT version, hash, parent_hash, changeset_hash, changeset FROM commits WHERE version = ?
	`, n)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w for version %d", ErrNoEntry, n)
	}
	return e, err
}

// Head returns the highest journaled version, 0 when empty.
func (l *Log) Head(ctx context.Context) (int, error) {
	var n sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(version) FROM commits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("query head: %w", err)
	}
	return int(n.Int64), nil
}

// RecordHistory lists the deltas that touched one record, oldest first.
// Initial deltas are not attributed to individual records.
func (l *Log) RecordHistory(ctx context.Context, typ, id string) ([]Change, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT version, idx, action, type, record_id, payload
		FROM changes
		WHERE type = ? AND record_id = ?
		ORDER BY version ASC, idx ASC
	`, typ, id)
	if err != nil {
		return nil, fmt.Errorf("query record history: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var action string
		if err := rows.Scan(&c.Version, &c.Index, &action, &c.Type, &c.RecordID, &c.Payload); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Action = changeset.Action(action)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var csJSON string
	if err := row.Scan(&e.Version, &e.Hash, &e.ParentHash, &e.ChangesetHash, &csJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	cs, err := changeset.Decode([]byte(csJSON))
	if err != nil {
		return Entry{}, fmt.Errorf("version %d: %w", e.Version, err)
	}
	if e.ChangesetHash != "" {
		got, err := cs.Hash()
		if err != nil {
			return Entry{}, fmt.Errorf("version %d: %w", e.Version, err)
		}
		if got != e.ChangesetHash {
			return Entry{}, fmt.Errorf("%w: version %d changeset hashes to %s, recorded %s", ErrCorruptEntry, e.Version, got, e.ChangesetHash)
		}
	}
	e.Changeset = cs
	return e, nil
}
