package property

// CopyValues bulk-copies item values from src into p, matching items by
// name. Items in src that p does not carry are ignored; items of p missing
// from src keep their prior value. When withState is true the property state
// is copied as well. The operation is idempotent.
func (p *Property) CopyValues(src *Property, withState bool) {
	if withState {
		p.State = src.State
	}
	for _, from := range src.Items {
		to := p.ItemByName(from.Name)
		if to == nil {
			continue
		}
		switch p.Type {
		case TypeText:
			to.Text = from.Text
		case TypeNumber:
			to.Number.Value = from.Number.Value
			to.Number.Target = from.Number.Target
		case TypeSwitch:
			to.Switch = from.Switch
		case TypeLight:
			to.Light = from.Light
		case TypeBLOB:
			to.Blob = from.Blob
		}
	}
}

// CopyTargets copies the number Target field (and nothing else of the
// payload) from src into p by item name. Change requests use this to stage
// requested values without touching the authoritative Value.
func (p *Property) CopyTargets(src *Property, withState bool) {
	if withState {
		p.State = src.State
	}
	if p.Type != TypeNumber {
		return
	}
	for _, from := range src.Items {
		if to := p.ItemByName(from.Name); to != nil {
			to.Number.Target = from.Number.Target
		}
	}
}
