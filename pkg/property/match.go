package property

// All is the wildcard enumeration template: empty device and name match
// every property of every device.
var All = &Property{}

// Match reports whether p is matched by the template t. Each of the
// template's device and name is either empty (wildcard) or must be
// identical. Match(p, All) holds for any p.
func Match(p, t *Property) bool {
	if t == nil {
		return true
	}
	if t.Device != "" && t.Device != p.Device {
		return false
	}
	if t.Name != "" && t.Name != p.Name {
		return false
	}
	return true
}

// MatchDefined is Match restricted to properties already announced by a
// define broadcast.
func MatchDefined(p, t *Property) bool {
	return p.Defined && Match(p, t)
}

// MatchChangeable is Match restricted to properties a client may write.
func MatchChangeable(p, t *Property) bool {
	return p.Perm != PermRO && p.Defined && Match(p, t)
}
