package simulator

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// profile is the on-disk form of a device's writable settings, keyed by
// property and item name.
type profile map[string]map[string]json.RawMessage

func profilePath(dir, device string) string {
	return filepath.Join(dir, device+".json")
}

// saveProfile writes the current values of the given properties.
func saveProfile(dir, device string, props []*property.Property) error {
	prof := make(profile, len(props))
	for _, p := range props {
		items := make(map[string]json.RawMessage, len(p.Items))
		for _, it := range p.Items {
			var v any
			switch p.Type {
			case property.TypeNumber:
				v = it.Number.Value
			case property.TypeSwitch:
				v = it.Switch
			case property.TypeText:
				v = it.TextContent()
			default:
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return err
			}
			items[it.Name] = raw
		}
		prof[p.Name] = items
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(profilePath(dir, device), data, 0o644)
}

// loadProfile applies saved values back onto the given properties and
// reports which were touched.
func loadProfile(dir, device string, props []*property.Property) ([]*property.Property, error) {
	data, err := os.ReadFile(profilePath(dir, device))
	if err != nil {
		return nil, err
	}
	var prof profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, err
	}

	var touched []*property.Property
	for _, p := range props {
		items, ok := prof[p.Name]
		if !ok {
			continue
		}
		changed := false
		for _, it := range p.Items {
			raw, ok := items[it.Name]
			if !ok {
				continue
			}
			switch p.Type {
			case property.TypeNumber:
				var v float64
				if json.Unmarshal(raw, &v) == nil && it.Number.InRange(v) {
					it.Number.Value = v
					it.Number.Target = v
					changed = true
				}
			case property.TypeSwitch:
				var v bool
				if json.Unmarshal(raw, &v) == nil {
					p.SetSwitch(it, v)
					changed = true
				}
			case property.TypeText:
				var v string
				if json.Unmarshal(raw, &v) == nil {
					it.SetText(v)
					changed = true
				}
			}
		}
		if changed {
			touched = append(touched, p)
		}
	}
	return touched, nil
}

// changeConfig handles a CONFIG change request: SAVE persists the given
// properties, LOAD applies the stored profile and republishes what moved.
func changeConfig(d *bus.Device, config, req *property.Property, dir string,
	persisted []*property.Property) bus.Result {

	config.ApplySwitches(req)
	save := config.ItemByName(SaveItemName).Switch
	load := config.ItemByName(LoadItemName).Switch
	config.SetSwitchByName(SaveItemName, false)
	config.SetSwitchByName(LoadItemName, false)

	switch {
	case save:
		if err := saveProfile(dir, d.Name, persisted); err != nil {
			config.State = property.StateAlert
			return d.UpdateProperty(config, "failed to save profile: "+err.Error())
		}
		config.State = property.StateOK
		return d.UpdateProperty(config, "profile saved")
	case load:
		touched, err := loadProfile(dir, d.Name, persisted)
		if err != nil {
			config.State = property.StateAlert
			return d.UpdateProperty(config, "failed to load profile: "+err.Error())
		}
		for _, p := range touched {
			p.State = property.StateOK
			d.UpdateProperty(p, "")
		}
		config.State = property.StateOK
		return d.UpdateProperty(config, "profile loaded")
	}
	config.State = property.StateOK
	return d.UpdateProperty(config, "")
}
