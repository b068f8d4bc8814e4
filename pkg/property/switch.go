package property

// SetSwitch mutates a single switch item, honouring the property rule. For
// OneOfMany and AtMostOne all sibling items are cleared before the target is
// set, so the rule invariant holds after any successful mutation.
func (p *Property) SetSwitch(target *Item, on bool) {
	if p.Rule == RuleOneOfMany || p.Rule == RuleAtMostOne {
		for _, it := range p.Items {
			it.Switch = false
		}
	}
	target.Switch = on
}

// SetSwitchByName is SetSwitch addressed by item name. Unknown names are
// ignored.
func (p *Property) SetSwitchByName(name string, on bool) {
	if it := p.ItemByName(name); it != nil {
		p.SetSwitch(it, on)
	}
}

// OnSwitch returns the first item that is on, or nil.
func (p *Property) OnSwitch() *Item {
	for _, it := range p.Items {
		if it.Switch {
			return it
		}
	}
	return nil
}

// ApplySwitches applies the on-items of a change request src to p under the
// property rule: for OneOfMany and AtMostOne the last on-item of src wins
// and all siblings are cleared; for AnyOfMany every named item is copied
// as-is.
func (p *Property) ApplySwitches(src *Property) {
	if p.Rule == RuleOneOfMany || p.Rule == RuleAtMostOne {
		for _, from := range src.Items {
			if !from.Switch {
				continue
			}
			if to := p.ItemByName(from.Name); to != nil {
				p.SetSwitch(to, true)
			}
		}
		return
	}
	for _, from := range src.Items {
		if to := p.ItemByName(from.Name); to != nil {
			to.Switch = from.Switch
		}
	}
}
