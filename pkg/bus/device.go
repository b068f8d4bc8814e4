package bus

import (
	"time"

	"github.com/openastro/skybus/pkg/property"
	"github.com/openastro/skybus/pkg/timer"
)

// Interface is the capability mask of a device.
type Interface uint32

const (
	InterfaceMount Interface = 1 << iota
	InterfaceCCD
	InterfaceGuider
	InterfaceFocuser
	InterfaceWheel
	InterfaceDome
	InterfaceGPS
	InterfaceRotator
	InterfaceAgent
	InterfaceAUXPower
	InterfaceAUXWeather
	InterfaceAUXLight
)

// Conventional connectivity property names, shared by every driver.
const (
	ConnectionPropertyName = "CONNECTION"
	ConnectedItemName      = "CONNECTED"
	DisconnectedItemName   = "DISCONNECTED"
)

// Driver is the five-callback contract a device supplies. Every callback is
// invoked under the device lock; any may return OK, Failed, NotFound,
// Duplicated, LockError, Busy, TooMany or a domain-specific code.
type Driver interface {
	// Attach is called once when the device is registered on the bus.
	Attach(d *Device) Result

	// EnumerateProperties asks the device to re-broadcast DefineProperty
	// for each of its properties matched by the template. It is a request
	// to rebroadcast, never a query with a return value.
	EnumerateProperties(d *Device, c *Client, tpl *property.Property) Result

	// ChangeProperty delivers a client's change request addressed to this
	// device.
	ChangeProperty(d *Device, c *Client, p *property.Property) Result

	// EnableBLOB notifies the device of a client's BLOB mode for matching
	// properties, so it may allocate or free URL endpoints.
	EnableBLOB(d *Device, c *Client, p *property.Property, mode BLOBMode) Result

	// Detach is called once when the device is removed from the bus.
	Detach(d *Device) Result
}

// Device is the registry record of an attached device. The driver owns the
// record for its lifetime; the bus never copies it.
type Device struct {
	Name string

	// MasterDevice points at the primary logical device of a multi-function
	// driver whose siblings share one private state.
	MasterDevice *Device

	Version     int
	Interface   Interface
	AccessToken uint64
	Remote      bool

	// Context is driver private data.
	Context any

	driver   Driver
	lock     ReentrantMutex
	bus      *Bus
	attached bool
}

// NewDevice builds a device record around a driver.
func NewDevice(name string, iface Interface, driver Driver) *Device {
	return &Device{
		Name:      name,
		Version:   property.Version,
		Interface: iface,
		driver:    driver,
	}
}

// Bus returns the bus the device is attached to, or nil.
func (d *Device) Bus() *Bus { return d.bus }

// Attached reports whether the device is currently registered.
func (d *Device) Attached() bool { return d.attached }

// Lock acquires the device lock. It is reentrant, so helper APIs may
// re-enter the device from within its own callbacks.
func (d *Device) Lock() { d.lock.Lock() }

// Unlock releases one level of the device lock.
func (d *Device) Unlock() { d.lock.Unlock() }

// SetTimer arms a one-shot callback after delay. The callback runs on a
// pool worker under the device lock, which is the canonical way for a
// driver to finish slow work and emit updates.
func (d *Device) SetTimer(delay time.Duration, fn func()) *timer.Handle {
	return d.bus.scheduler.Schedule(delay, &d.lock, fn)
}

// DefineProperty broadcasts a property definition from this device.
func (d *Device) DefineProperty(p *property.Property, message string) Result {
	return d.bus.DefineProperty(d, p, message)
}

// UpdateProperty broadcasts a property update from this device.
func (d *Device) UpdateProperty(p *property.Property, message string) Result {
	return d.bus.UpdateProperty(d, p, message)
}

// DeleteProperty broadcasts removal of a property (or, with an empty
// property name, of every property) of this device.
func (d *Device) DeleteProperty(p *property.Property, message string) Result {
	return d.bus.DeleteProperty(d, p, message)
}

// SendMessage broadcasts free-form text from this device to every client.
func (d *Device) SendMessage(message string) Result {
	return d.bus.SendMessage(d, message)
}
