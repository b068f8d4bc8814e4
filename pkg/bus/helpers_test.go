package bus

import (
	"sync"

	"github.com/openastro/skybus/pkg/property"
)

// recorder is an Observer that records every delivered event in arrival
// order.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	kind    string
	device  string
	prop    *property.Property
	message string
}

func (r *recorder) record(kind string, d *Device, p *property.Property, message string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	device := ""
	if d != nil {
		device = d.Name
	}
	r.events = append(r.events, recordedEvent{kind: kind, device: device, prop: p, message: message})
	return OK
}

func (r *recorder) Attach(c *Client) Result { return r.record("attach", nil, nil, "") }
func (r *recorder) Detach(c *Client) Result { return r.record("detach", nil, nil, "") }

func (r *recorder) DefineProperty(c *Client, d *Device, p *property.Property, message string) Result {
	return r.record("define", d, p, message)
}

func (r *recorder) UpdateProperty(c *Client, d *Device, p *property.Property, message string) Result {
	return r.record("update", d, p, message)
}

func (r *recorder) DeleteProperty(c *Client, d *Device, p *property.Property, message string) Result {
	return r.record("delete", d, p, message)
}

func (r *recorder) SendMessage(c *Client, d *Device, message string) Result {
	return r.record("message", d, nil, message)
}

func (r *recorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) byKind(kind string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.all() {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) named(kind, prop string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.byKind(kind) {
		if e.prop != nil && e.prop.Name == prop {
			out = append(out, e)
		}
	}
	return out
}

// testDriver owns a fixed set of properties, defines the matching ones on
// enumerate and delegates change requests to an optional hook.
type testDriver struct {
	props    []*property.Property
	onChange func(d *Device, c *Client, p *property.Property) Result
	onBLOB   func(d *Device, c *Client, p *property.Property, mode BLOBMode) Result
}

func (t *testDriver) Attach(d *Device) Result { return OK }
func (t *testDriver) Detach(d *Device) Result { return OK }

func (t *testDriver) EnumerateProperties(d *Device, c *Client, tpl *property.Property) Result {
	for _, p := range t.props {
		if property.Match(p, tpl) {
			d.DefineProperty(p, "")
		}
	}
	return OK
}

func (t *testDriver) ChangeProperty(d *Device, c *Client, p *property.Property) Result {
	if t.onChange != nil {
		return t.onChange(d, c, p)
	}
	return OK
}

func (t *testDriver) EnableBLOB(d *Device, c *Client, p *property.Property, mode BLOBMode) Result {
	if t.onBLOB != nil {
		return t.onBLOB(d, c, p, mode)
	}
	return OK
}

func numberProp(device, name string, min, max, value float64) *property.Property {
	p := property.InitNumber(nil, device, name, "Main", name, property.StateIdle, property.PermRW, 1)
	property.InitNumberItem(p.Item(0), "X", "X", min, max, 1, value)
	return p
}
