// Package snapshot persists store versions as YAML files in a directory.
//
// The directory holds data.yml (latest version) and versions/NNNN.yml (every
// superseded version). Files are keyed by record type, then record id, with
// attributes in sorted order, so successive versions diff cleanly.
package snapshot
