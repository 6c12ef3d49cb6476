package changeset

import (
	"fmt"

	"github.com/roach88/cascade/internal/value"
)

// Action tags a delta in its serialised form.
type Action string

const (
	ActionInitial Action = "initial"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
)

// Target receives deltas. *Dataset is the canonical implementation.
type Target interface {
	// Replace swaps the whole dataset and reports whether it differed.
	Replace(data Dataset) bool
	// Insert adds a new record.
	Insert(typ, id string, attrs value.Object) error
	// Merge applies a partial update and reports whether anything changed.
	Merge(typ, id string, partial value.Object) (bool, error)
}

// Result reports the effect of a single delta.
type Result struct {
	Changed bool
}

// Delta is one recorded mutation. The set of deltas is closed: Initial,
// Create and Update.
type Delta interface {
	Action() Action
	Apply(t Target) (Result, error)
	delta()
}

// Initial replaces the entire dataset.
type Initial struct {
	Data Dataset
}

// NewInitial deep-copies data so later changes by the caller are not
// observed.
func NewInitial(data Dataset) *Initial {
	return &Initial{Data: data.Clone()}
}

func (*Initial) delta() {}

// Action implements Delta.
func (*Initial) Action() Action { return ActionInitial }

// Apply implements Delta. The target receives its own copy.
func (d *Initial) Apply(t Target) (Result, error) {
	return Result{Changed: t.Replace(d.Data.Clone())}, nil
}

// Create inserts a new record. Attributes always carry the id.
type Create struct {
	Type       string
	Attributes value.Object
}

// NewCreate builds a Create delta. When attrs has no string "id" a new one
// is drawn from gen.
func NewCreate(gen IDGenerator, typ string, attrs value.Object) *Create {
	out := attrs.Clone()
	if out == nil {
		out = value.Object{}
	}
	if id, ok := out["id"].(value.String); !ok || id == "" {
		out["id"] = value.String(gen.NewID())
	}
	return &Create{Type: typ, Attributes: out}
}

func (*Create) delta() {}

// Action implements Delta.
func (*Create) Action() Action { return ActionCreate }

// ID returns the id of the record being created.
func (d *Create) ID() string {
	id, _ := d.Attributes["id"].(value.String)
	return string(id)
}

// Apply implements Delta.
func (d *Create) Apply(t Target) (Result, error) {
	id := d.ID()
	if id == "" {
		return Result{}, fmt.Errorf("create %s: missing id", d.Type)
	}
	if err := t.Insert(d.Type, id, d.Attributes); err != nil {
		return Result{}, err
	}
	return Result{Changed: true}, nil
}

// Update merges a partial attribute set into an existing record.
type Update struct {
	Type       string
	ID         string
	Attributes value.Object
}

// NewUpdate builds an Update delta. The id attribute cannot be changed and
// is dropped from the partial.
func NewUpdate(typ, id string, partial value.Object) *Update {
	out := partial.Clone()
	if out == nil {
		out = value.Object{}
	}
	delete(out, "id")
	return &Update{Type: typ, ID: id, Attributes: out}
}

func (*Update) delta() {}

// Action implements Delta.
func (*Update) Action() Action { return ActionUpdate }

// Apply implements Delta. A missing target record is ErrRecordNotFound.
func (d *Update) Apply(t Target) (Result, error) {
	changed, err := t.Merge(d.Type, d.ID, d.Attributes)
	if err != nil {
		return Result{}, err
	}
	return Result{Changed: changed}, nil
}

// Changeset is an ordered list of deltas.
type Changeset struct {
	Deltas []Delta
}

// New creates a changeset from deltas.
func New(deltas ...Delta) *Changeset {
	return &Changeset{Deltas: deltas}
}

// Add appends a delta.
func (c *Changeset) Add(d Delta) {
	c.Deltas = append(c.Deltas, d)
}

// Len returns the number of deltas.
func (c *Changeset) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Deltas)
}

// Empty reports whether the changeset has no deltas.
func (c *Changeset) Empty() bool {
	return c.Len() == 0
}

// Apply applies every delta to t in order. It stops at the first error;
// deltas applied before it are not undone, so callers apply to a copy.
func (c *Changeset) Apply(t Target) ([]Result, error) {
	if c == nil {
		return nil, nil
	}
	results := make([]Result, 0, len(c.Deltas))
	for i, d := range c.Deltas {
		res, err := d.Apply(t)
		if err != nil {
			return results, fmt.Errorf("delta %d (%s): %w", i, d.Action(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Changed reports whether any result changed its target.
func Changed(results []Result) bool {
	for _, r := range results {
		if r.Changed {
			return true
		}
	}
	return false
}

// Hash returns the content hash of the serialised changeset.
func (c *Changeset) Hash() (string, error) {
	obj, err := c.Object()
	if err != nil {
		return "", err
	}
	return value.Hash(value.DomainChangeset, obj)
}
