package changeset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/cascade/internal/value"
)

// ErrRecordNotFound is returned when an update targets an id that does not
// exist in the dataset.
var ErrRecordNotFound = errors.New("record not found")

// ErrDuplicateID is returned when a create reuses an existing id.
var ErrDuplicateID = errors.New("duplicate record id")

// Dataset is the materialised state of a store: record type, then record
// id, then attributes. Every snapshot is a Dataset.
type Dataset map[string]map[string]value.Object

// Clone returns a deep copy.
func (d Dataset) Clone() Dataset {
	out := make(Dataset, len(d))
	for typ, recs := range d {
		cp := make(map[string]value.Object, len(recs))
		for id, attrs := range recs {
			cp[id] = attrs.Clone()
		}
		out[typ] = cp
	}
	return out
}

// Types returns record type names in sorted order.
func (d Dataset) Types() []string {
	types := make([]string, 0, len(d))
	for typ := range d {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// IDs returns the ids stored under typ in sorted order.
func (d Dataset) IDs(typ string) []string {
	recs := d[typ]
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get returns the attributes of one record.
func (d Dataset) Get(typ, id string) (value.Object, bool) {
	attrs, ok := d[typ][id]
	return attrs, ok
}

// Len returns the number of records across all types.
func (d Dataset) Len() int {
	n := 0
	for _, recs := range d {
		n += len(recs)
	}
	return n
}

// Counts returns the number of records per type.
func (d Dataset) Counts() map[string]int {
	out := make(map[string]int, len(d))
	for typ, recs := range d {
		out[typ] = len(recs)
	}
	return out
}

// Object converts the dataset to a single nested value. Types with no
// records are omitted so an empty type and a missing type hash the same.
func (d Dataset) Object() value.Object {
	obj := make(value.Object, len(d))
	for typ, recs := range d {
		if len(recs) == 0 {
			continue
		}
		inner := make(value.Object, len(recs))
		for id, attrs := range recs {
			inner[id] = attrs
		}
		obj[typ] = inner
	}
	return obj
}

// DatasetFromObject is the inverse of Dataset.Object.
func DatasetFromObject(obj value.Object) (Dataset, error) {
	d := make(Dataset, len(obj))
	for typ, v := range obj {
		recs, ok := v.(value.Object)
		if !ok {
			return nil, fmt.Errorf("type %q: expected mapping of records, got %T", typ, v)
		}
		inner := make(map[string]value.Object, len(recs))
		for id, rv := range recs {
			attrs, ok := rv.(value.Object)
			if !ok {
				return nil, fmt.Errorf("record %s/%s: expected attributes mapping, got %T", typ, id, rv)
			}
			inner[id] = attrs
		}
		d[typ] = inner
	}
	return d, nil
}

// Hash returns the snapshot hash of the dataset.
func (d Dataset) Hash() (string, error) {
	return value.Hash(value.DomainSnapshot, d.Object())
}

// Equal reports whether two datasets hold the same records.
func (d Dataset) Equal(other Dataset) bool {
	return value.Equal(d.Object(), other.Object())
}

// Replace implements Target.
func (d *Dataset) Replace(data Dataset) bool {
	changed := !d.Equal(data)
	*d = data.Clone()
	return changed
}

// Insert implements Target.
func (d *Dataset) Insert(typ, id string, attrs value.Object) error {
	if *d == nil {
		*d = make(Dataset)
	}
	recs := (*d)[typ]
	if recs == nil {
		recs = make(map[string]value.Object)
		(*d)[typ] = recs
	}
	if _, exists := recs[id]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateID, typ, id)
	}
	recs[id] = attrs.Clone()
	return nil
}

// Merge implements Target.
func (d *Dataset) Merge(typ, id string, partial value.Object) (bool, error) {
	attrs, ok := (*d)[typ][id]
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, typ, id)
	}
	merged := attrs.Merge(partial)
	if value.Equal(attrs, merged) {
		return false, nil
	}
	(*d)[typ][id] = merged
	return true, nil
}
