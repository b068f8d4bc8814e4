package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/property"
	"github.com/openastro/skybus/pkg/timer"
)

// Default capacities of the bounded registry tables.
const (
	DefaultMaxDevices = 256
	DefaultMaxClients = 256
)

// Options configures a Bus.
type Options struct {
	// MaxDevices and MaxClients bound the registry tables (default 256).
	MaxDevices int
	MaxClients int

	// StrictLocking wraps outbound dispatch in the emitting device's lock,
	// so no reader ever observes a half-mutated item vector. The device
	// lock is reentrant, so drivers emitting from inside their own
	// callbacks do not deadlock.
	StrictLocking bool

	// Proxy caches the most recent BLOB content per item, so late-joining
	// URL-mode clients can still retrieve data over HTTP.
	Proxy bool

	// TimerWorkers sizes the timer callback pool.
	TimerWorkers int

	Logger *zap.Logger
}

// Bus routes property traffic between any number of locally attached
// devices and clients. It holds two bounded slot tables, the BLOB entry
// registry, the master access token and the shared timer scheduler.
type Bus struct {
	logger *zap.Logger

	mu      sync.Mutex
	devices []*Device
	clients []*Client
	defined map[string][]*property.Property

	strict  bool
	proxy   bool
	urlBase string

	tokens    tokenStore
	blobs     blobRegistry
	scheduler *timer.Scheduler
}

// New constructs a bus. The caller owns its lifecycle and passes it
// explicitly to whatever attaches.
func New(opts Options) *Bus {
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = DefaultMaxDevices
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:    logger.With(zap.String("component", "bus")),
		devices:   make([]*Device, opts.MaxDevices),
		clients:   make([]*Client, opts.MaxClients),
		defined:   make(map[string][]*property.Property),
		strict:    opts.StrictLocking,
		proxy:     opts.Proxy,
		scheduler: timer.NewScheduler(opts.TimerWorkers, logger),
	}
}

// Close stops the timer scheduler. Attached devices and clients should be
// detached first.
func (b *Bus) Close() {
	b.scheduler.Stop()
}

// Scheduler exposes the shared timer scheduler.
func (b *Bus) Scheduler() *timer.Scheduler { return b.scheduler }

// AttachDevice registers a device, invokes its Attach callback and then
// synthesises an enumerate request on behalf of every attached client.
// Fails with TooMany when the table is full and Duplicated when the name
// collides with an already-attached non-remote device.
func (b *Bus) AttachDevice(d *Device) Result {
	b.mu.Lock()
	slot := -1
	for i, e := range b.devices {
		if e == nil {
			if slot < 0 {
				slot = i
			}
			continue
		}
		if !e.Remote && e.Name == d.Name {
			b.mu.Unlock()
			b.logger.Warn("Device name already attached", zap.String("device", d.Name))
			return Duplicated
		}
	}
	if slot < 0 {
		b.mu.Unlock()
		b.logger.Warn("Device table full", zap.String("device", d.Name))
		return TooMany
	}
	d.bus = b
	d.attached = true
	b.devices[slot] = d
	clients := b.clientSnapshot()
	b.mu.Unlock()

	b.logger.Info("Device attached", zap.String("device", d.Name))

	d.lock.Lock()
	d.driver.Attach(d)
	d.lock.Unlock()

	for _, c := range clients {
		d.lock.Lock()
		d.driver.EnumerateProperties(d, c, property.All)
		d.lock.Unlock()
	}
	return OK
}

// DetachDevice invokes the driver's Detach callback, frees the slot and
// broadcasts DeleteProperty for every property the device still has
// defined.
func (b *Bus) DetachDevice(d *Device) Result {
	b.mu.Lock()
	slot := -1
	for i, e := range b.devices {
		if e == d {
			slot = i
			break
		}
	}
	if slot < 0 {
		b.mu.Unlock()
		return NotFound
	}
	b.mu.Unlock()

	d.lock.Lock()
	d.driver.Detach(d)
	d.lock.Unlock()

	b.mu.Lock()
	b.devices[slot] = nil
	leftover := b.defined[d.Name]
	b.mu.Unlock()

	for _, p := range leftover {
		b.DeleteProperty(d, p, "")
	}

	d.attached = false
	d.bus = nil
	b.logger.Info("Device detached", zap.String("device", d.Name))
	return OK
}

// AttachClient registers a client, invokes its Attach callback and then
// fans out a global enumerate so the client receives a DefineProperty for
// each already-defined property across all devices.
func (b *Bus) AttachClient(c *Client) Result {
	b.mu.Lock()
	slot := -1
	for i, e := range b.clients {
		if e == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		b.mu.Unlock()
		b.logger.Warn("Client table full", zap.String("client", c.Name))
		return TooMany
	}
	c.bus = b
	c.attached = true
	b.clients[slot] = c
	b.mu.Unlock()

	b.logger.Info("Client attached", zap.String("client", c.Name))

	c.observer.Attach(c)
	return b.EnumerateProperties(c, property.All)
}

// DetachClient invokes the client's Detach callback and frees the slot.
func (b *Bus) DetachClient(c *Client) Result {
	b.mu.Lock()
	slot := -1
	for i, e := range b.clients {
		if e == c {
			slot = i
			break
		}
	}
	if slot < 0 {
		b.mu.Unlock()
		return NotFound
	}
	b.clients[slot] = nil
	b.mu.Unlock()

	c.observer.Detach(c)
	c.attached = false
	c.bus = nil
	b.logger.Info("Client detached", zap.String("client", c.Name))
	return OK
}

// EnumerateProperties asks every attached device to re-broadcast its
// properties matched by the template to the given client. A nil template
// enumerates everything.
func (b *Bus) EnumerateProperties(c *Client, tpl *property.Property) Result {
	if tpl == nil {
		tpl = property.All
	}
	for _, d := range b.deviceSnapshot() {
		if tpl.Device != "" && tpl.Device != d.Name {
			continue
		}
		d.lock.Lock()
		d.driver.EnumerateProperties(d, c, tpl)
		d.lock.Unlock()
	}
	return OK
}

// DeviceByName returns the attached device with the given name, or nil.
func (b *Bus) DeviceByName(name string) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d != nil && d.Name == name {
			return d
		}
	}
	return nil
}

// Devices returns the attached devices in slot order.
func (b *Bus) Devices() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceSnapshotLocked()
}

// Clients returns the attached clients in slot order.
func (b *Bus) Clients() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// DefinedProperties returns snapshots of the currently defined properties
// of one device (or of all devices when name is empty). Drivers mutate
// their items under the device lock, so each snapshot is taken under the
// owning device's lock, after the registry mutex is released.
func (b *Bus) DefinedProperties(device string) []*property.Property {
	type group struct {
		dev   *Device
		props []*property.Property
	}
	b.mu.Lock()
	var groups []group
	for dev, props := range b.defined {
		if device != "" && dev != device {
			continue
		}
		g := group{props: append([]*property.Property(nil), props...)}
		for _, d := range b.devices {
			if d != nil && d.Name == dev {
				g.dev = d
				break
			}
		}
		groups = append(groups, g)
	}
	b.mu.Unlock()

	var out []*property.Property
	for _, g := range groups {
		if g.dev != nil {
			g.dev.lock.Lock()
		}
		for _, p := range g.props {
			out = append(out, p.Snapshot())
		}
		if g.dev != nil {
			g.dev.lock.Unlock()
		}
	}
	return out
}

func (b *Bus) deviceSnapshot() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceSnapshotLocked()
}

func (b *Bus) deviceSnapshotLocked() []*Device {
	out := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

func (b *Bus) clientSnapshot() []*Client {
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
