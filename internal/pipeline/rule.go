package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/query"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

// Rule is a declarative producer: for every record of Type matching Where,
// create the Spawn children, then apply Set to the record.
//
// Set must move the record out of Where, otherwise the record would match
// again on the next pass. Validate enforces this.
//
// Rules let configuration files and scenario files describe work without Go
// code.
type Rule struct {
	Label  string         `yaml:"label" json:"label"`
	Type   string         `yaml:"type" json:"type"`
	Where  map[string]any `yaml:"where" json:"where"`
	Set    map[string]any `yaml:"set" json:"set"`
	Create []Spawn        `yaml:"create,omitempty" json:"create,omitempty"`

	// Fail, when set, makes the work fail with this message after its
	// mutations are buffered, so nothing commits.
	Fail string `yaml:"fail,omitempty" json:"fail,omitempty"`
}

// Spawn creates Count records of Type. When Link is set the new records
// carry the parent record's id in that attribute; when Index is set they
// carry their position (0-based) in that attribute.
type Spawn struct {
	Type       string         `yaml:"type" json:"type"`
	Count      int            `yaml:"count" json:"count"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Link       string         `yaml:"link,omitempty" json:"link,omitempty"`
	Index      string         `yaml:"index,omitempty" json:"index,omitempty"`
}

// ErrRuleNeverSettles is returned for a rule whose Set leaves the record
// matching Where.
var ErrRuleNeverSettles = errors.New("set does not change any attribute named in where")

// Validate checks the rule's shape. Registry checks happen when the
// processor is built.
func (r Rule) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("rule %q: type is required", r.Label)
	}
	settles := false
	for k, want := range r.Where {
		got, ok := r.Set[k]
		if !ok {
			continue
		}
		a, err := value.From(want)
		if err != nil {
			return fmt.Errorf("rule %q: where %s: %w", r.Label, k, err)
		}
		b, err := value.From(got)
		if err != nil {
			return fmt.Errorf("rule %q: set %s: %w", r.Label, k, err)
		}
		if !value.Equal(a, b) {
			settles = true
		}
	}
	if !settles {
		return fmt.Errorf("rule %q: %w", r.Label, ErrRuleNeverSettles)
	}
	for i, sp := range r.Create {
		if sp.Type == "" || sp.Count < 0 {
			return fmt.Errorf("rule %q: create[%d] needs a type and a non-negative count", r.Label, i)
		}
	}
	return nil
}

// Producer compiles the rule.
func (r Rule) Producer() (engine.Producer, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	pred, err := query.Where(r.Where)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Label, err)
	}
	set, err := value.ObjectFrom(r.Set)
	if err != nil {
		return nil, fmt.Errorf("rule %q: set: %w", r.Label, err)
	}
	spawns := make([]compiledSpawn, len(r.Create))
	for i, sp := range r.Create {
		attrs, err := value.ObjectFrom(sp.Attributes)
		if err != nil {
			return nil, fmt.Errorf("rule %q: create[%d]: %w", r.Label, i, err)
		}
		spawns[i] = compiledSpawn{Spawn: sp, attrs: attrs}
	}

	fail := r.Fail
	work := func(ctx context.Context, tx *store.Tx, rec store.Record) error {
		for _, sp := range spawns {
			if err := sp.create(tx, rec); err != nil {
				return err
			}
		}
		if _, err := tx.Update(rec, set); err != nil {
			return err
		}
		if fail != "" {
			return errors.New(fail)
		}
		return nil
	}

	opts := []engine.ProducerOption{engine.WithLabel(r.Label)}
	if r.Label == "" {
		opts = append(opts, engine.WithID(r.defaultID()))
	}
	return engine.NewProducer(engine.Query(query.Select{Type: r.Type, Filter: pred}), work, opts...), nil
}

func (r Rule) defaultID() string {
	keys := slices.Sorted(maps.Keys(r.Set))
	return fmt.Sprintf("%s:%v", r.Type, keys)
}

type compiledSpawn struct {
	Spawn
	attrs value.Object
}

func (sp compiledSpawn) create(tx *store.Tx, parent store.Record) error {
	for i := 0; i < sp.Count; i++ {
		attrs := sp.attrs.Clone()
		if sp.Link != "" {
			attrs[sp.Link] = value.String(parent.ID)
		}
		if sp.Index != "" {
			attrs[sp.Index] = value.Int(i)
		}
		if _, err := tx.Create(sp.Type, attrs); err != nil {
			return err
		}
	}
	return nil
}

// Rules appends one producer per rule, in order.
func (d *Definition) Rules(rules ...Rule) *Definition {
	for _, r := range rules {
		p, err := r.Producer()
		if err != nil {
			d.errs = append(d.errs, err)
			continue
		}
		d.producers = append(d.producers, p)
	}
	return d
}
