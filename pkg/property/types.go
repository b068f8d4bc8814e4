// Package property implements the typed property/item data model shared by
// devices and clients on the bus. A property is a named, typed vector of
// items owned by a device; clients observe property definitions and updates
// and request item changes.
package property

import (
	"encoding/json"
	"fmt"
)

// Type identifies the payload carried by every item of a property.
type Type int

const (
	TypeText Type = iota + 1
	TypeNumber
	TypeSwitch
	TypeLight
	TypeBLOB
)

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeText:
		return "Text"
	case TypeNumber:
		return "Number"
	case TypeSwitch:
		return "Switch"
	case TypeLight:
		return "Light"
	case TypeBLOB:
		return "BLOB"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a wire name back to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "Text":
		return TypeText, nil
	case "Number":
		return TypeNumber, nil
	case "Switch":
		return TypeSwitch, nil
	case "Light":
		return TypeLight, nil
	case "BLOB":
		return TypeBLOB, nil
	}
	return 0, fmt.Errorf("unknown property type %q", s)
}

// State is the operational state of a property, driving client UI feedback.
type State int

const (
	// StateIdle marks a property that is defined but not in active use.
	StateIdle State = iota
	// StateOK marks a successfully completed operation; values are authoritative.
	StateOK
	// StateBusy marks an operation in progress; values are transient.
	StateBusy
	// StateAlert marks a failed operation; the update message carries detail.
	StateAlert
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOK:
		return "Ok"
	case StateBusy:
		return "Busy"
	case StateAlert:
		return "Alert"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState maps a wire name back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "Idle":
		return StateIdle, nil
	case "Ok":
		return StateOK, nil
	case "Busy":
		return StateBusy, nil
	case "Alert":
		return StateAlert, nil
	}
	return 0, fmt.Errorf("unknown property state %q", s)
}

// Perm is the client-side permission of a property.
type Perm int

const (
	// PermRO properties are observable only.
	PermRO Perm = iota + 1
	// PermRW properties are observable and changeable.
	PermRW
	// PermWO properties accept changes but report no meaningful value.
	PermWO
)

func (p Perm) String() string {
	switch p {
	case PermRO:
		return "ro"
	case PermRW:
		return "rw"
	case PermWO:
		return "wo"
	}
	return fmt.Sprintf("Perm(%d)", int(p))
}

// ParsePerm maps a wire name back to a Perm.
func ParsePerm(s string) (Perm, error) {
	switch s {
	case "ro":
		return PermRO, nil
	case "rw":
		return PermRW, nil
	case "wo":
		return PermWO, nil
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// Rule constrains how switch items of one property may combine.
type Rule int

const (
	// RuleOneOfMany requires exactly one item on after any successful mutation.
	RuleOneOfMany Rule = iota + 1
	// RuleAtMostOne allows one item on, or none.
	RuleAtMostOne
	// RuleAnyOfMany imposes no constraint.
	RuleAnyOfMany
)

func (r Rule) String() string {
	switch r {
	case RuleOneOfMany:
		return "OneOfMany"
	case RuleAtMostOne:
		return "AtMostOne"
	case RuleAnyOfMany:
		return "AnyOfMany"
	}
	return fmt.Sprintf("Rule(%d)", int(r))
}

// ParseRule maps a wire name back to a Rule.
func ParseRule(s string) (Rule, error) {
	switch s {
	case "OneOfMany":
		return RuleOneOfMany, nil
	case "AtMostOne":
		return RuleAtMostOne, nil
	case "AnyOfMany":
		return RuleAnyOfMany, nil
	}
	return 0, fmt.Errorf("unknown switch rule %q", s)
}

// MarshalJSON encodes the type by its wire name.
func (t Type) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// UnmarshalJSON decodes the type from its wire name.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalJSON encodes the state by its wire name.
func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes the state from its wire name.
func (s *State) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseState(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON encodes the permission by its wire name.
func (p Perm) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON decodes the permission from its wire name.
func (p *Perm) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePerm(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalJSON encodes the rule by its wire name.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r == 0 {
		return json.Marshal("")
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes the rule from its wire name. An empty string leaves
// the rule unset, which is valid for non-switch properties.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*r = 0
		return nil
	}
	v, err := ParseRule(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
