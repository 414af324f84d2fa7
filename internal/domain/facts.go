package domain

import (
	"encoding/json"
	"fmt"
)

// FactKind discriminates the typed value of a transaction fact.
type FactKind string

const (
	FactBool   FactKind = "bool"
	FactString FactKind = "string"
)

// FactValue is a typed condition value. Matching is strictly
// type-preserving: boolean true never equals the string "true".
type FactValue struct {
	Kind FactKind
	Bool bool
	Str  string
}

// BoolValue returns a boolean fact value.
func BoolValue(b bool) FactValue {
	return FactValue{Kind: FactBool, Bool: b}
}

// StringValue returns a string/enum fact value.
func StringValue(s string) FactValue {
	return FactValue{Kind: FactString, Str: s}
}

// Equal reports type-preserving equality between two fact values.
func (v FactValue) Equal(o FactValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case FactBool:
		return v.Bool == o.Bool
	case FactString:
		return v.Str == o.Str
	default:
		return false
	}
}

// MarshalJSON encodes the underlying value, not the wrapper.
func (v FactValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FactBool:
		return json.Marshal(v.Bool)
	case FactString:
		return json.Marshal(v.Str)
	default:
		return nil, fmt.Errorf("unsupported fact kind %q", v.Kind)
	}
}

// UnmarshalJSON decodes a JSON bool or string into a typed value.
// Any other JSON type is rejected so an unsupported fact can never
// silently match a condition.
func (v *FactValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = BoolValue(t)
	case string:
		*v = StringValue(t)
	default:
		return fmt.Errorf("unsupported fact value %v (%T): must be bool or string", raw, raw)
	}
	return nil
}

// Facts is the condition context supplied at evaluation time: a flat
// mapping of condition key to typed value. The key set is open-ended;
// only keys referenced by a rule line's conditions are inspected.
type Facts map[string]FactValue

// ConditionSet maps condition keys to the values required for a rule
// line to apply. An empty set means the line is unconditional.
type ConditionSet map[string]FactValue
