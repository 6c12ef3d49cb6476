package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cascade/internal/value"
)

// CompileError is a record type definition error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileRecordType parses one record type definition. The value is the
// struct under record.<name>:
//
//	record: main: attributes: {
//		started: {type: "bool", default: false}
//		label:   "string"
//	}
func CompileRecordType(v cue.Value) (*RecordType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rt := &RecordType{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rt.Name = labels[len(labels)-1].String()
	}

	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return rt, nil
	}

	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		attr, err := compileAttribute(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		rt.Attributes = append(rt.Attributes, attr)
	}
	return rt, nil
}

// compileAttribute accepts either a bare kind string or a struct with
// type and default fields.
func compileAttribute(name string, v cue.Value) (Attribute, error) {
	attr := Attribute{Name: name, Kind: KindAny}

	if s, err := v.String(); err == nil {
		kind, err := ParseKind(s)
		if err != nil {
			return attr, &CompileError{Field: "type", Message: fmt.Sprintf("%s: %v", name, err), Pos: v.Pos()}
		}
		attr.Kind = kind
		return attr, nil
	}

	if v.IncompleteKind() != cue.StructKind {
		return attr, &CompileError{
			Field:   "attributes",
			Message: fmt.Sprintf("%s: must be a kind name or {type, default}", name),
			Pos:     v.Pos(),
		}
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if typeVal.Exists() {
		s, err := typeVal.String()
		if err != nil {
			return attr, formatCUEError(err)
		}
		kind, err := ParseKind(s)
		if err != nil {
			return attr, &CompileError{Field: "type", Message: fmt.Sprintf("%s: %v", name, err), Pos: typeVal.Pos()}
		}
		attr.Kind = kind
	}

	defVal := v.LookupPath(cue.ParsePath("default"))
	if defVal.Exists() {
		def, err := decodeDefault(defVal)
		if err != nil {
			return attr, &CompileError{Field: "default", Message: fmt.Sprintf("%s: %v", name, err), Pos: defVal.Pos()}
		}
		if !attr.Kind.Admits(def) {
			return attr, &CompileError{
				Field:   "default",
				Message: fmt.Sprintf("%s: default does not match kind %s", name, attr.Kind),
				Pos:     defVal.Pos(),
			}
		}
		attr.Default = def
		attr.HasDefault = true
	}
	return attr, nil
}

func decodeDefault(v cue.Value) (value.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("default must be concrete: %w", err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return value.Decode(data)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
