package schema

import (
	"fmt"
	"sync"

	"github.com/roach88/cascade/internal/value"
)

// Registry maps record type names to their definitions.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]RecordType
	order []string
}

// NewRegistry creates a registry holding the given types.
func NewRegistry(types ...RecordType) (*Registry, error) {
	r := &Registry{types: make(map[string]RecordType)}
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error.
// Use only in tests.
func MustRegistry(types ...RecordType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a record type. Registering the same name twice is a
// configuration error.
func (r *Registry) Register(t RecordType) error {
	if t.Name == "" {
		return &ConfigError{Code: ErrCodeInvalidType, Message: "record type name is required"}
	}
	seen := make(map[string]bool, len(t.Attributes))
	for _, a := range t.Attributes {
		if a.Name == "id" {
			return &ConfigError{Code: ErrCodeInvalidType, Message: fmt.Sprintf("%s: attribute \"id\" is reserved", t.Name)}
		}
		if seen[a.Name] {
			return &ConfigError{Code: ErrCodeInvalidType, Message: fmt.Sprintf("%s: attribute %q declared twice", t.Name, a.Name)}
		}
		seen[a.Name] = true
		if a.HasDefault && !a.Kind.Admits(a.Default) {
			return &ConfigError{Code: ErrCodeAttributeKind, Message: fmt.Sprintf("%s.%s: default does not match kind %s", t.Name, a.Name, a.Kind)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]RecordType)
	}
	if _, exists := r.types[t.Name]; exists {
		return &ConfigError{Code: ErrCodeDuplicateType, Message: fmt.Sprintf("record type %q is already registered", t.Name)}
	}
	r.types[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the record type registered under name.
func (r *Registry) Lookup(name string) (RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// TypeFor is Lookup with an error for unknown names.
func (r *Registry) TypeFor(name string) (RecordType, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return RecordType{}, &ConfigError{Code: ErrCodeUnknownType, Message: fmt.Sprintf("unknown record type %q", name)}
	}
	return t, nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Types returns registered types in registration order.
func (r *Registry) Types() []RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Build validates attrs against the named type and fills in defaults.
func (r *Registry) Build(name string, attrs value.Object) (value.Object, error) {
	t, err := r.TypeFor(name)
	if err != nil {
		return nil, err
	}
	if err := t.Check(attrs); err != nil {
		return nil, err
	}
	return t.WithDefaults(attrs), nil
}

// Materialize fills in defaults for a stored record without validating it.
// Unknown types are returned unchanged.
func (r *Registry) Materialize(name string, attrs value.Object) value.Object {
	t, ok := r.Lookup(name)
	if !ok {
		return attrs.Clone()
	}
	return t.WithDefaults(attrs)
}
