package bus

import (
	"sync"

	"github.com/openastro/skybus/pkg/property"
)

// Observer is the callback contract a client supplies. Events arrive in
// per-device order; BLOB value slices are read-only and borrowed for the
// duration of the callback unless explicitly copied.
type Observer interface {
	Attach(c *Client) Result
	DefineProperty(c *Client, d *Device, p *property.Property, message string) Result
	UpdateProperty(c *Client, d *Device, p *property.Property, message string) Result
	DeleteProperty(c *Client, d *Device, p *property.Property, message string) Result
	SendMessage(c *Client, d *Device, message string) Result
	Detach(c *Client) Result
}

// BLOBPolicy is one enable-BLOB record of a client, keyed by a wildcard
// (device, property) pair. Empty strings match everything.
type BLOBPolicy struct {
	Device   string
	Property string
	Mode     BLOBMode
}

// Client is the registry record of an attached client. Apart from its BLOB
// policy records a client is stateless from the bus's perspective.
type Client struct {
	Name    string
	Remote  bool
	Version int

	// Context is client private data.
	Context any

	observer Observer
	bus      *Bus
	attached bool

	mu       sync.Mutex
	policies []BLOBPolicy
}

// NewClient builds a client record around an observer.
func NewClient(name string, observer Observer) *Client {
	return &Client{
		Name:     name,
		Version:  property.Version,
		observer: observer,
	}
}

// Bus returns the bus the client is attached to, or nil.
func (c *Client) Bus() *Bus { return c.bus }

// Attached reports whether the client is currently registered.
func (c *Client) Attached() bool { return c.attached }

// BLOBMode returns the client's delivery mode for the named BLOB property.
// The first matching policy record wins; without one, delivery defaults to
// BLOBNever.
func (c *Client) BLOBMode(device, prop string) BLOBMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.policies {
		if (r.Device == "" || r.Device == device) && (r.Property == "" || r.Property == prop) {
			return r.Mode
		}
	}
	return BLOBNever
}

// setBLOBMode records or updates the policy for the (device, property)
// wildcard pair of tpl.
func (c *Client) setBLOBMode(tpl *property.Property, mode BLOBMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.policies {
		if r.Device == tpl.Device && r.Property == tpl.Name {
			c.policies[i].Mode = mode
			return
		}
	}
	c.policies = append(c.policies, BLOBPolicy{Device: tpl.Device, Property: tpl.Name, Mode: mode})
}

// Policies returns a copy of the client's enable-BLOB records.
func (c *Client) Policies() []BLOBPolicy {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BLOBPolicy, len(c.policies))
	copy(out, c.policies)
	return out
}

// EnumerateProperties asks every attached device matched by the template to
// re-broadcast its definitions to this client.
func (c *Client) EnumerateProperties(tpl *property.Property) Result {
	return c.bus.EnumerateProperties(c, tpl)
}

// ChangeProperty routes a change request to the device named by p.Device.
func (c *Client) ChangeProperty(p *property.Property) Result {
	return c.bus.ChangeProperty(c, p)
}

// EnableBLOB records this client's BLOB delivery mode for properties
// matched by tpl and notifies the owning device.
func (c *Client) EnableBLOB(tpl *property.Property, mode BLOBMode) Result {
	return c.bus.EnableBLOB(c, tpl, mode)
}
