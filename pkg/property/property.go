package property

// Version carried by newly initialised properties.
const Version = 2

// Property is a typed vector of items owned by a device. Device and Name are
// globally unique together. Items are held by pointer so their identity
// survives a grow-in-place reallocation.
type Property struct {
	Device string `json:"device"`
	Name   string `json:"name"`
	Group  string `json:"group,omitempty"`
	Label  string `json:"label,omitempty"`
	Hints  string `json:"hints,omitempty"`

	State State `json:"state"`
	Type  Type  `json:"type"`
	Perm  Perm  `json:"perm,omitempty"`
	Rule  Rule  `json:"rule,omitempty"`

	Version     int    `json:"version,omitempty"`
	AccessToken uint64 `json:"accessToken,omitempty"`
	Hidden      bool   `json:"hidden,omitempty"`
	Defined     bool   `json:"-"`

	Items []*Item `json:"items"`
}

// Count returns the number of live items.
func (p *Property) Count() int { return len(p.Items) }

// AllocatedCount returns the item capacity before the vector reallocates.
func (p *Property) AllocatedCount() int { return cap(p.Items) }

// Item returns the i-th item.
func (p *Property) Item(i int) *Item { return p.Items[i] }

// ItemByName returns the named item, or nil.
func (p *Property) ItemByName(name string) *Item {
	for _, it := range p.Items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

// Resize grows or shrinks the item vector to count. Growth past the current
// allocation reallocates with doubled capacity, preserving item identity;
// shrinking clamps the length and keeps the allocation.
func (p *Property) Resize(count int) {
	switch {
	case count <= len(p.Items):
		p.Items = p.Items[:count]
	case count <= cap(p.Items):
		n := len(p.Items)
		p.Items = p.Items[:count]
		for i := n; i < count; i++ {
			if p.Items[i] == nil {
				p.Items[i] = &Item{}
			}
		}
	default:
		alloc := cap(p.Items) * 2
		if alloc < count {
			alloc = count
		}
		items := make([]*Item, count, alloc)
		copy(items, p.Items)
		for i := len(p.Items); i < count; i++ {
			items[i] = &Item{}
		}
		p.Items = items
	}
}

func initProperty(existing *Property, t Type, device, name, group, label string, state State, perm Perm, rule Rule, count int) *Property {
	p := existing
	if p == nil {
		p = &Property{}
	}
	p.Device = device
	p.Name = truncateName(name)
	p.Group = group
	p.Label = label
	p.State = state
	p.Type = t
	p.Perm = perm
	p.Rule = rule
	if p.Version == 0 {
		p.Version = Version
	}
	p.Resize(count)
	return p
}

// InitText initialises (or, when existing is non-nil, resizes and re-labels
// in place) a text property with count items. Items that still fit keep
// their values.
func InitText(existing *Property, device, name, group, label string, state State, perm Perm, count int) *Property {
	return initProperty(existing, TypeText, device, name, group, label, state, perm, 0, count)
}

// InitNumber initialises a number property.
func InitNumber(existing *Property, device, name, group, label string, state State, perm Perm, count int) *Property {
	return initProperty(existing, TypeNumber, device, name, group, label, state, perm, 0, count)
}

// InitSwitch initialises a switch property with the given rule.
func InitSwitch(existing *Property, device, name, group, label string, state State, perm Perm, rule Rule, count int) *Property {
	return initProperty(existing, TypeSwitch, device, name, group, label, state, perm, rule, count)
}

// InitLight initialises a light property. Lights are read-only indicators.
func InitLight(existing *Property, device, name, group, label string, state State, count int) *Property {
	return initProperty(existing, TypeLight, device, name, group, label, state, PermRO, 0, count)
}

// InitBLOB initialises a BLOB property. BLOBs are read-only on the bus; the
// write direction goes through the upload endpoint.
func InitBLOB(existing *Property, device, name, group, label string, state State, count int) *Property {
	return initProperty(existing, TypeBLOB, device, name, group, label, state, PermRO, 0, count)
}

// Snapshot returns a deep copy of the property except for BLOB content,
// which is shared by reference. Dispatch uses snapshots so a receiver never
// observes a half-mutated item vector.
func (p *Property) Snapshot() *Property {
	q := *p
	q.Items = make([]*Item, len(p.Items), cap(p.Items))
	for i, it := range p.Items {
		dup := *it
		q.Items[i] = &dup
	}
	return &q
}
