package changeset

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cascade/internal/value"
)

// DeltaObject returns the tagged-record form of one delta:
//
//	{"action":"create","type":T,"attributes":{...}}
//	{"action":"update","type":T,"id":ID,"delta":{...}}
//	{"action":"initial","delta":{T:{ID:{...}}}}
func DeltaObject(d Delta) (value.Object, error) {
	switch v := d.(type) {
	case *Initial:
		return value.Object{
			"action": value.String(ActionInitial),
			"delta":  v.Data.Object(),
		}, nil
	case *Create:
		return value.Object{
			"action":     value.String(ActionCreate),
			"type":       value.String(v.Type),
			"attributes": v.Attributes,
		}, nil
	case *Update:
		return value.Object{
			"action": value.String(ActionUpdate),
			"type":   value.String(v.Type),
			"id":     value.String(v.ID),
			"delta":  v.Attributes,
		}, nil
	default:
		return nil, fmt.Errorf("unknown delta type %T", d)
	}
}

// Object returns {"changes":[...]}.
func (c *Changeset) Object() (value.Object, error) {
	changes := make(value.Array, 0, c.Len())
	if c != nil {
		for i, d := range c.Deltas {
			obj, err := DeltaObject(d)
			if err != nil {
				return nil, fmt.Errorf("delta %d: %w", i, err)
			}
			changes = append(changes, obj)
		}
	}
	return value.Object{"changes": changes}, nil
}

// MarshalJSON implements json.Marshaler.
func (c *Changeset) MarshalJSON() ([]byte, error) {
	obj, err := c.Object()
	if err != nil {
		return nil, err
	}
	return obj.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Changeset) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Initial) MarshalJSON() ([]byte, error) { return marshalDelta(d) }

// MarshalJSON implements json.Marshaler.
func (d *Create) MarshalJSON() ([]byte, error) { return marshalDelta(d) }

// MarshalJSON implements json.Marshaler.
func (d *Update) MarshalJSON() ([]byte, error) { return marshalDelta(d) }

func marshalDelta(d Delta) ([]byte, error) {
	obj, err := DeltaObject(d)
	if err != nil {
		return nil, err
	}
	return obj.MarshalJSON()
}

// Decode parses a serialised changeset.
func Decode(data []byte) (*Changeset, error) {
	var raw struct {
		Changes []json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode changeset: %w", err)
	}
	cs := &Changeset{Deltas: make([]Delta, 0, len(raw.Changes))}
	for i, msg := range raw.Changes {
		d, err := DecodeDelta(msg)
		if err != nil {
			return nil, fmt.Errorf("decode changeset: change %d: %w", i, err)
		}
		cs.Deltas = append(cs.Deltas, d)
	}
	return cs, nil
}

// DecodeDelta parses one tagged delta record.
func DecodeDelta(data []byte) (Delta, error) {
	var raw struct {
		Action     Action       `json:"action"`
		Type       string       `json:"type"`
		ID         string       `json:"id"`
		Attributes value.Object `json:"attributes"`
		Delta      value.Object `json:"delta"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Action {
	case ActionInitial:
		ds, err := DatasetFromObject(raw.Delta)
		if err != nil {
			return nil, err
		}
		return &Initial{Data: ds}, nil
	case ActionCreate:
		if raw.Type == "" {
			return nil, fmt.Errorf("create: missing type")
		}
		c := &Create{Type: raw.Type, Attributes: raw.Attributes}
		if c.Attributes == nil || c.ID() == "" {
			return nil, fmt.Errorf("create %s: missing id attribute", raw.Type)
		}
		return c, nil
	case ActionUpdate:
		if raw.Type == "" || raw.ID == "" {
			return nil, fmt.Errorf("update: type and id are required")
		}
		attrs := raw.Delta
		if attrs == nil {
			attrs = value.Object{}
		}
		return &Update{Type: raw.Type, ID: raw.ID, Attributes: attrs}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", raw.Action)
	}
}
