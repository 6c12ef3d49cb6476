package store

import (
	"fmt"
	"slices"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/schema"
	"github.com/roach88/cascade/internal/value"
)

// Record is a materialised record: its attributes with type defaults
// applied. Records are values; mutating one does not touch the store.
type Record struct {
	Type       string
	ID         string
	Attributes value.Object
}

// Get returns an attribute, or Null when absent.
func (r Record) Get(name string) value.Value {
	if v, ok := r.Attributes[name]; ok {
		return v
	}
	return value.Null{}
}

// String returns a string attribute or "".
func (r Record) String(name string) string {
	s, _ := r.Attributes[name].(value.String)
	return string(s)
}

// Int returns an integer attribute or 0.
func (r Record) Int(name string) int64 {
	n, _ := r.Attributes[name].(value.Int)
	return int64(n)
}

// Bool returns a boolean attribute or false.
func (r Record) Bool(name string) bool {
	b, _ := r.Attributes[name].(value.Bool)
	return bool(b)
}

// Key identifies the record across types.
func (r Record) Key() string {
	return r.Type + "/" + r.ID
}

// view answers queries over one immutable dataset.
type view struct {
	data changeset.Dataset
	reg  *schema.Registry
}

func (v view) materialize(typ, id string, attrs value.Object) Record {
	var out value.Object
	if v.reg != nil {
		out = v.reg.Materialize(typ, attrs)
	} else {
		out = attrs.Clone()
	}
	return Record{Type: typ, ID: id, Attributes: out}
}

// where scans typ in id order and returns matching records.
func (v view) where(typ string, p query.Predicate) []Record {
	recs := v.data[typ]
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec := v.materialize(typ, id, recs[id])
		if query.Match(p, rec.Attributes) {
			out = append(out, rec)
		}
	}
	return out
}

func (v view) find(typ, id string) (Record, error) {
	attrs, ok := v.data.Get(typ, id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, typ, id)
	}
	return v.materialize(typ, id, attrs), nil
}
