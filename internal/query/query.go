package query

import (
	"fmt"
	"slices"

	"github.com/roach88/cascade/internal/value"
)

// Predicate is a filter over a record's attributes.
//
// This is a sealed interface; the implementations are:
//   - Equals: attribute equals a literal value
//   - Func: caller-supplied test
//   - And: every predicate holds
//
// A nil Predicate matches every record.
type Predicate interface {
	predicateNode()
}

// Equals matches records whose Field equals Value. An absent attribute
// compares as Null.
type Equals struct {
	Field string
	Value value.Value
}

func (Equals) predicateNode() {}

// Func matches records for which Fn returns true. Name is used in
// diagnostics only.
type Func struct {
	Name string
	Fn   func(attrs value.Object) bool
}

func (Func) predicateNode() {}

// And matches records that satisfy every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Select names the record type a query scans and the filter it applies.
type Select struct {
	Type   string
	Filter Predicate
}

// Match evaluates p against attrs.
func Match(p Predicate, attrs value.Object) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return value.Equal(attrs[pred.Field], pred.Value)
	case *Equals:
		return value.Equal(attrs[pred.Field], pred.Value)
	case Func:
		return pred.Fn == nil || pred.Fn(attrs)
	case *Func:
		return pred.Fn == nil || pred.Fn(attrs)
	case And:
		return matchAll(pred.Predicates, attrs)
	case *And:
		return matchAll(pred.Predicates, attrs)
	default:
		return false
	}
}

func matchAll(preds []Predicate, attrs value.Object) bool {
	for _, p := range preds {
		if !Match(p, attrs) {
			return false
		}
	}
	return true
}

// Where builds a predicate from exact-value filters and predicate filters,
// all of which must hold. Exact filters are evaluated in key order.
func Where(exact map[string]any, funcs ...Func) (Predicate, error) {
	keys := make([]string, 0, len(exact))
	for k := range exact {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	preds := make([]Predicate, 0, len(exact)+len(funcs))
	for _, k := range keys {
		v, err := value.From(exact[k])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", k, err)
		}
		preds = append(preds, Equals{Field: k, Value: v})
	}
	for _, f := range funcs {
		preds = append(preds, f)
	}
	return And{Predicates: preds}, nil
}

// MustWhere is like Where but panics on error.
func MustWhere(exact map[string]any, funcs ...Func) Predicate {
	p, err := Where(exact, funcs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Eq is shorthand for an Equals predicate.
func Eq(field string, v value.Value) Equals {
	return Equals{Field: field, Value: v}
}

// Fields returns the attribute names exact filters refer to.
func Fields(p Predicate) []string {
	var out []string
	walkEquals(p, func(eq Equals) { out = append(out, eq.Field) })
	return out
}
