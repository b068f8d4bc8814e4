package simulator

import (
	"math"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// slewSteps is how many movement updates a slew is divided into.
const slewSteps = 5

// mountDriver simulates an equatorial mount. Slews run asynchronously:
// the change request returns once the property went busy, and timer steps
// move the coordinates until the target is reached.
type mountDriver struct {
	opts Options

	connection  *property.Property
	coordinates *property.Property
	park        *property.Property
	config      *property.Property

	slewTimer *slewState
}

type slewState struct {
	targetRA  float64
	targetDec float64
	stepsLeft int
}

// NewMountDevice builds a simulated mount device ready for AttachDevice.
func NewMountDevice(name string, opts Options) *bus.Device {
	return bus.NewDevice(name, bus.InterfaceMount, &mountDriver{opts: opts.withDefaults()})
}

func (m *mountDriver) Attach(d *bus.Device) bus.Result {
	m.connection = connectionProperty(d.Name)

	m.coordinates = property.InitNumber(nil, d.Name, CoordinatesPropertyName, "Main",
		"Equatorial coordinates", property.StateIdle, property.PermRW, 2)
	property.InitNumberItem(m.coordinates.Items[0], RAItemName, "Right ascension", 0, 24, 0, 0)
	property.InitNumberItem(m.coordinates.Items[1], DecItemName, "Declination", -90, 90, 0, 90)
	m.coordinates.Items[0].Number.Format = "%12.9m"
	m.coordinates.Items[1].Number.Format = "%12.9m"

	m.park = property.InitSwitch(nil, d.Name, ParkPropertyName, "Main", "Park",
		property.StateOK, property.PermRW, property.RuleOneOfMany, 2)
	property.InitSwitchItem(m.park.Items[0], ParkedItemName, "Parked", true)
	property.InitSwitchItem(m.park.Items[1], UnparkedItemName, "Unparked", false)

	d.DefineProperty(m.connection, "")
	d.DefineProperty(m.coordinates, "")
	d.DefineProperty(m.park, "")
	if m.opts.ProfileDir != "" {
		m.config = configProperty(d.Name)
		d.DefineProperty(m.config, "")
	}
	return bus.OK
}

func (m *mountDriver) properties() []*property.Property {
	props := []*property.Property{m.connection, m.coordinates, m.park}
	if m.config != nil {
		props = append(props, m.config)
	}
	return props
}

func (m *mountDriver) EnumerateProperties(d *bus.Device, c *bus.Client, tpl *property.Property) bus.Result {
	for _, p := range m.properties() {
		if property.Match(p, tpl) {
			d.DefineProperty(p, "")
		}
	}
	return bus.OK
}

func (m *mountDriver) ChangeProperty(d *bus.Device, c *bus.Client, p *property.Property) bus.Result {
	switch p.Name {
	case bus.ConnectionPropertyName:
		m.connection.ApplySwitches(p)
		m.connection.State = property.StateOK
		return d.UpdateProperty(m.connection, "")
	case ParkPropertyName:
		return m.changePark(d, p)
	case CoordinatesPropertyName:
		return m.changeCoordinates(d, p)
	case ConfigPropertyName:
		if m.config == nil {
			return bus.NotFound
		}
		return changeConfig(d, m.config, p, m.opts.ProfileDir,
			[]*property.Property{m.coordinates, m.park})
	}
	return bus.NotFound
}

func (m *mountDriver) changePark(d *bus.Device, p *property.Property) bus.Result {
	m.park.ApplySwitches(p)
	if m.park.ItemByName(ParkedItemName).Switch {
		// Parking aborts any slew and drives to the pole.
		m.slewTimer = nil
		m.coordinates.Items[0].Number.Value = 0
		m.coordinates.Items[1].Number.Value = 90
		m.coordinates.State = property.StateOK
		d.UpdateProperty(m.coordinates, "mount parked")
	}
	m.park.State = property.StateOK
	return d.UpdateProperty(m.park, "")
}

func (m *mountDriver) changeCoordinates(d *bus.Device, p *property.Property) bus.Result {
	if !connected(m.connection) {
		m.coordinates.State = property.StateAlert
		return d.UpdateProperty(m.coordinates, "mount is not connected")
	}
	if m.park.ItemByName(ParkedItemName).Switch {
		m.coordinates.State = property.StateAlert
		return d.UpdateProperty(m.coordinates, "mount is parked")
	}
	if !targetsInRange(m.coordinates, p) {
		m.coordinates.State = property.StateAlert
		return d.UpdateProperty(m.coordinates, "target out of range")
	}
	m.coordinates.CopyTargets(p, false)
	ra := m.coordinates.Items[0]
	dec := m.coordinates.Items[1]

	m.slewTimer = &slewState{
		targetRA:  ra.Number.Target,
		targetDec: dec.Number.Target,
		stepsLeft: slewSteps,
	}
	m.coordinates.State = property.StateBusy
	d.UpdateProperty(m.coordinates, "")
	d.SetTimer(m.opts.SlewStep, func() { m.slewStep(d) })
	return bus.OK
}

// slewStep runs under the device lock on a timer worker.
func (m *mountDriver) slewStep(d *bus.Device) {
	s := m.slewTimer
	if s == nil {
		return
	}
	ra := m.coordinates.Items[0]
	dec := m.coordinates.Items[1]
	frac := 1.0 / float64(s.stepsLeft)
	ra.Number.Value += (s.targetRA - ra.Number.Value) * frac
	dec.Number.Value += (s.targetDec - dec.Number.Value) * frac
	s.stepsLeft--

	if s.stepsLeft <= 0 || (math.Abs(ra.Number.Value-s.targetRA) < 1e-9 &&
		math.Abs(dec.Number.Value-s.targetDec) < 1e-9) {
		ra.Number.Value = s.targetRA
		dec.Number.Value = s.targetDec
		m.slewTimer = nil
		m.coordinates.State = property.StateOK
		d.UpdateProperty(m.coordinates, "slew complete")
		return
	}
	d.UpdateProperty(m.coordinates, "")
	d.SetTimer(m.opts.SlewStep, func() { m.slewStep(d) })
}

func (m *mountDriver) EnableBLOB(d *bus.Device, c *bus.Client, p *property.Property, mode bus.BLOBMode) bus.Result {
	return bus.OK
}

func (m *mountDriver) Detach(d *bus.Device) bus.Result { return bus.OK }
