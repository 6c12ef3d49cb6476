// Package changelog provides a SQLite-backed, append-only journal of
// committed changesets.
//
// Every commit is stored as one row in commits (version, snapshot hash,
// parent hash, canonical changeset JSON) plus one row per delta in changes.
// The journal is independent of the snapshot files: Replay rebuilds any
// version from an empty dataset and Verify checks that every snapshot
// agrees with its replay.
//
// # Ordering
//
// All queries order by version, a logical sequence. Timestamps are never
// stored, so replay is deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package changelog
