package query

import (
	"fmt"

	"github.com/roach88/cascade/internal/schema"
)

// ValidationError describes a filter that cannot match records of the
// queried type.
type ValidationError struct {
	Code    string
	Type    string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Type, e.Field, e.Message)
}

// Validate checks a Select against the registry: the type must exist and
// exact filters must name declared attributes with values of the declared
// kind. Func predicates are opaque and never flagged.
func Validate(sel Select, reg *schema.Registry) error {
	rt, err := reg.TypeFor(sel.Type)
	if err != nil {
		return err
	}
	var errs []ValidationError
	walkEquals(sel.Filter, func(eq Equals) {
		if !rt.Declares(eq.Field) {
			errs = append(errs, ValidationError{Code: schema.ErrCodeUnknownAttribute, Type: rt.Name, Field: eq.Field, Message: "attribute is not declared"})
			return
		}
		if a, ok := rt.Attribute(eq.Field); ok && !a.Kind.Admits(eq.Value) {
			errs = append(errs, ValidationError{Code: schema.ErrCodeAttributeKind, Type: rt.Name, Field: eq.Field, Message: fmt.Sprintf("filter value does not match kind %s", a.Kind)})
		}
	})
	if len(errs) == 0 {
		return nil
	}
	return &schema.ConfigError{Code: errs[0].Code, Message: errs[0].Error()}
}

func walkEquals(p Predicate, fn func(Equals)) {
	switch pred := p.(type) {
	case Equals:
		fn(pred)
	case *Equals:
		fn(*pred)
	case And:
		for _, c := range pred.Predicates {
			walkEquals(c, fn)
		}
	case *And:
		for _, c := range pred.Predicates {
			walkEquals(c, fn)
		}
	}
}
