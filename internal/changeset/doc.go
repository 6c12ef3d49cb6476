// Package changeset records mutations as an ordered list of deltas.
//
// A transaction buffers its creates and updates in a Changeset; the store
// applies the changeset to a copy of the latest Dataset at commit time and
// the changelog persists its JSON form. Three delta kinds exist:
//
//   - Initial replaces the whole dataset (used by restore)
//   - Create inserts a record with a generated id
//   - Update merges a partial attribute set into one record
package changeset
