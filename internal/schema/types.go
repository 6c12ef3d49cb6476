package schema

import (
	"fmt"

	"github.com/roach88/cascade/internal/value"
)

// Kind is the declared type of an attribute.
type Kind string

const (
	KindAny    Kind = "any"
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// ParseKind validates a kind name. An empty name means KindAny.
func ParseKind(name string) (Kind, error) {
	switch k := Kind(name); k {
	case "":
		return KindAny, nil
	case KindAny, KindString, KindInt, KindBool, KindArray, KindObject:
		return k, nil
	case "float", "number":
		return "", fmt.Errorf("attribute kind %q is not supported: floats are not allowed", name)
	default:
		return "", fmt.Errorf("unknown attribute kind %q", name)
	}
}

// Admits reports whether v may be stored in an attribute of kind k.
// Null is admitted by every kind.
func (k Kind) Admits(v value.Value) bool {
	switch v.(type) {
	case nil, value.Null:
		return true
	}
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(value.String)
		return ok
	case KindInt:
		_, ok := v.(value.Int)
		return ok
	case KindBool:
		_, ok := v.(value.Bool)
		return ok
	case KindArray:
		_, ok := v.(value.Array)
		return ok
	case KindObject:
		_, ok := v.(value.Object)
		return ok
	}
	return false
}

// Attribute is one declared attribute of a record type.
type Attribute struct {
	Name       string
	Kind       Kind
	Default    value.Value
	HasDefault bool
}

// RecordType describes the attributes a record of a given name carries.
// A type with no declared attributes accepts any attribute.
type RecordType struct {
	Name       string
	Attributes []Attribute
}

// Open reports whether the type accepts undeclared attributes.
func (t RecordType) Open() bool {
	return len(t.Attributes) == 0
}

// Attribute looks up a declared attribute by name.
func (t RecordType) Attribute(name string) (Attribute, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Declares reports whether name is an attribute of the type. The id
// attribute is always declared.
func (t RecordType) Declares(name string) bool {
	if name == "id" || t.Open() {
		return true
	}
	_, ok := t.Attribute(name)
	return ok
}

// WithDefaults returns a copy of attrs with declared defaults filled in for
// absent attributes.
func (t RecordType) WithDefaults(attrs value.Object) value.Object {
	out := attrs.Clone()
	if out == nil {
		out = value.Object{}
	}
	for _, a := range t.Attributes {
		if !a.HasDefault {
			continue
		}
		if _, ok := out[a.Name]; !ok {
			out[a.Name] = value.Clone(a.Default)
		}
	}
	return out
}

// Check rejects undeclared attributes and values of the wrong kind.
func (t RecordType) Check(attrs value.Object) error {
	for _, name := range attrs.SortedKeys() {
		if name == "id" {
			if _, ok := attrs[name].(value.String); !ok {
				return &ConfigError{Code: ErrCodeAttributeKind, Message: fmt.Sprintf("%s.id must be a string", t.Name)}
			}
			continue
		}
		if t.Open() {
			continue
		}
		a, ok := t.Attribute(name)
		if !ok {
			return &ConfigError{Code: ErrCodeUnknownAttribute, Message: fmt.Sprintf("unknown attribute %q for record type %q", name, t.Name)}
		}
		if !a.Kind.Admits(attrs[name]) {
			return &ConfigError{Code: ErrCodeAttributeKind, Message: fmt.Sprintf("%s.%s: expected %s, got %T", t.Name, name, a.Kind, attrs[name])}
		}
	}
	return nil
}
