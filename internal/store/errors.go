package store

import (
	"errors"

	"github.com/roach88/cascade/internal/schema"
)

// ErrCodeNestedTransaction is the configuration error code for opening a
// transaction inside another one on the same store.
const ErrCodeNestedTransaction = "E210"

var (
	// ErrNestedTransaction is returned when a transaction is opened on a
	// context that already carries one for the same store.
	ErrNestedTransaction = &schema.ConfigError{Code: ErrCodeNestedTransaction, Message: "a transaction is already open on this store"}

	// ErrReadOnly is returned for writes against a store pinned to a
	// historical version.
	ErrReadOnly = errors.New("store is pinned to a historical version and is read-only")

	// ErrNothingToRestore is returned when restoring the current version.
	ErrNothingToRestore = errors.New("version is already current, nothing to restore")

	// ErrVersionNotFound is returned for version numbers outside 1..Head.
	ErrVersionNotFound = errors.New("version not found")

	// ErrTxClosed is returned when a transaction handle is used after its
	// body returned.
	ErrTxClosed = errors.New("transaction is closed")

	// ErrNotFound is returned by Find when no record has the id.
	ErrNotFound = errors.New("record not found")
)
