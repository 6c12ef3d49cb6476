// Package schema holds the record type registry: the mapping between type
// names and their declared attributes and defaults.
package schema
