// Package hotplug attaches and detaches devices as hardware comes and
// goes. Events are queued and handled by one worker, so a burst of plug
// and unplug notifications never interleaves half-attached devices on the
// bus.
package hotplug

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/bus"
)

// Identity names one piece of hardware.
type Identity struct {
	VendorID  uint16
	ProductID uint16
	Serial    string
}

// Key is the map key form of the identity.
func (id Identity) Key() string {
	return fmt.Sprintf("%04x:%04x:%s", id.VendorID, id.ProductID, id.Serial)
}

// Handler recognises hardware and builds the devices it exposes.
type Handler interface {
	// Match reports whether this handler drives the identified hardware.
	Match(id Identity) bool

	// Devices builds fresh device records for the hardware. Names may
	// collide with already attached devices; the manager renames them.
	Devices(id Identity) []*bus.Device
}

type eventKind int

const (
	eventPlug eventKind = iota
	eventUnplug
)

type event struct {
	kind eventKind
	id   Identity
}

// Manager owns the plug/unplug queue and the per-identity device slots.
type Manager struct {
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	handlers []Handler
	attached map[string][]*bus.Device

	events  chan event
	wg      sync.WaitGroup
	once    sync.Once
	stopMu  sync.RWMutex
	stopped bool
}

// NewManager creates a stopped manager.
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		bus:      b,
		logger:   logger.With(zap.String("component", "hotplug")),
		attached: make(map[string][]*bus.Device),
		events:   make(chan event, 64),
	}
}

// RegisterHandler adds a hardware handler. Handlers are consulted in
// registration order; every match contributes devices.
func (m *Manager) RegisterHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start launches the worker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Stop drains the queue and detaches every hot-plugged device. Events
// arriving after Stop are dropped.
func (m *Manager) Stop() {
	m.once.Do(func() {
		m.stopMu.Lock()
		m.stopped = true
		m.stopMu.Unlock()
		close(m.events)
	})
	m.wg.Wait()

	m.mu.Lock()
	remaining := m.attached
	m.attached = make(map[string][]*bus.Device)
	m.mu.Unlock()
	for _, devices := range remaining {
		for _, d := range devices {
			m.bus.DetachDevice(d)
		}
	}
}

// Plug enqueues an arrival event.
func (m *Manager) Plug(id Identity) {
	m.enqueue(event{kind: eventPlug, id: id})
}

// Unplug enqueues a removal event.
func (m *Manager) Unplug(id Identity) {
	m.enqueue(event{kind: eventUnplug, id: id})
}

func (m *Manager) enqueue(ev event) {
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		return
	}
	m.events <- ev
}

// Attached returns the devices currently attached for an identity.
func (m *Manager) Attached(id Identity) []*bus.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*bus.Device(nil), m.attached[id.Key()]...)
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for ev := range m.events {
		switch ev.kind {
		case eventPlug:
			m.handlePlug(ev.id)
		case eventUnplug:
			m.handleUnplug(ev.id)
		}
	}
}

func (m *Manager) handlePlug(id Identity) {
	m.mu.Lock()
	_, already := m.attached[id.Key()]
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	if already {
		m.logger.Debug("Ignoring duplicate plug event", zap.String("identity", id.Key()))
		return
	}

	var attached []*bus.Device
	for _, h := range handlers {
		if !h.Match(id) {
			continue
		}
		for _, d := range h.Devices(id) {
			d.Name = m.uniqueName(d.Name)
			if r := m.bus.AttachDevice(d); r != bus.OK {
				m.logger.Warn("Failed to attach hot-plugged device",
					zap.String("device", d.Name),
					zap.Stringer("result", r))
				continue
			}
			m.logger.Info("Attached hot-plugged device",
				zap.String("device", d.Name),
				zap.String("identity", id.Key()))
			attached = append(attached, d)
		}
	}
	if len(attached) == 0 {
		m.logger.Debug("No handler claimed hardware", zap.String("identity", id.Key()))
		return
	}
	m.mu.Lock()
	m.attached[id.Key()] = attached
	m.mu.Unlock()
}

func (m *Manager) handleUnplug(id Identity) {
	m.mu.Lock()
	devices := m.attached[id.Key()]
	delete(m.attached, id.Key())
	m.mu.Unlock()

	for _, d := range devices {
		m.bus.DetachDevice(d)
		m.logger.Info("Detached unplugged device",
			zap.String("device", d.Name),
			zap.String("identity", id.Key()))
	}
}

// uniqueName suffixes " #2", " #3", ... until the name is free on the bus.
func (m *Manager) uniqueName(base string) string {
	if m.bus.DeviceByName(base) == nil {
		return base
	}
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s #%d", base, n)
		if m.bus.DeviceByName(name) == nil {
			return name
		}
	}
}
