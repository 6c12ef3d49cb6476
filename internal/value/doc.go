// Package value defines the attribute values stored on records.
//
// Values form a closed set (Null, String, Int, Bool, Array, Object) so that
// every snapshot has exactly one canonical JSON encoding and one hash.
package value
