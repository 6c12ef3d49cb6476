// Package query describes the filters a producer uses to select records.
//
// Queries are evaluated by linear scan over a snapshot; there is no
// planner and no index.
package query
