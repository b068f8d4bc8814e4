package tcpjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// Connector dials a remote server and mirrors its devices onto the local
// bus. Every remote device appears locally under "NAME@host:port"; change
// and enable-BLOB requests addressed to a proxy are forwarded upstream.
type Connector struct {
	bus    *bus.Bus
	addr   string
	logger *zap.Logger

	conn    net.Conn
	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	devices map[string]*bus.Device // keyed by remote name
	closed  bool

	done chan struct{}
}

// Connect dials addr, requests the remote property set and starts mirroring
// in the background.
func Connect(b *bus.Bus, addr string, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c := &Connector{
		bus:     b,
		addr:    addr,
		logger:  logger.With(zap.String("component", "tcpjson"), zap.String("server", addr)),
		conn:    conn,
		enc:     json.NewEncoder(conn),
		devices: make(map[string]*bus.Device),
		done:    make(chan struct{}),
	}
	if r := c.send(&Envelope{Op: OpGet}); r != bus.OK {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to request properties from %s", addr)
	}
	go c.readLoop()
	c.logger.Info("Connected to remote server")
	return c, nil
}

// Close disconnects and detaches every proxy device.
func (c *Connector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
	<-c.done
}

// Done is closed once the connection is gone and the proxies are detached.
func (c *Connector) Done() <-chan struct{} { return c.done }

// localName maps a remote device name to its proxy name on the local bus.
func (c *Connector) localName(remote string) string {
	return remote + "@" + c.addr
}

func (c *Connector) send(env *Envelope) bus.Result {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(env); err != nil {
		return bus.Failed
	}
	return bus.OK
}

func (c *Connector) readLoop() {
	defer c.teardown()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.logger.Warn("Dropping malformed envelope", zap.Error(err))
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Connector) dispatch(env *Envelope) {
	switch env.Op {
	case OpDefine:
		if env.Property == nil {
			return
		}
		d := c.deviceFor(env.Device)
		if d == nil {
			return
		}
		p := env.Property
		p.Device = d.Name
		d.DefineProperty(p, env.Message)
	case OpUpdate:
		if env.Property == nil {
			return
		}
		if d := c.lookup(env.Device); d != nil {
			p := env.Property
			p.Device = d.Name
			// A define always precedes updates on the wire.
			p.Defined = true
			d.UpdateProperty(p, env.Message)
		}
	case OpDelete:
		if env.Property == nil {
			env.Property = &property.Property{}
		}
		if d := c.lookup(env.Device); d != nil {
			p := env.Property
			p.Device = d.Name
			d.DeleteProperty(p, env.Message)
		}
	case OpMessage:
		if d := c.lookup(env.Device); d != nil {
			d.SendMessage(env.Message)
		}
	default:
		c.logger.Warn("Dropping envelope with unknown operation", zap.String("op", env.Op))
	}
}

// deviceFor returns the proxy for a remote device, attaching a new one on
// first sight.
func (c *Connector) deviceFor(remote string) *bus.Device {
	if remote == "" {
		return nil
	}
	c.mu.Lock()
	if d, ok := c.devices[remote]; ok {
		c.mu.Unlock()
		return d
	}
	c.mu.Unlock()

	d := bus.NewDevice(c.localName(remote), 0, &proxyDriver{connector: c, remote: remote})
	d.Remote = true
	if r := c.bus.AttachDevice(d); r != bus.OK {
		c.logger.Warn("Failed to attach proxy device",
			zap.String("device", remote),
			zap.Stringer("result", r))
		return nil
	}
	c.mu.Lock()
	c.devices[remote] = d
	c.mu.Unlock()
	c.logger.Info("Mirrored remote device", zap.String("device", remote))
	return d
}

func (c *Connector) lookup(remote string) *bus.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices[remote]
}

func (c *Connector) teardown() {
	c.mu.Lock()
	c.closed = true
	proxies := make([]*bus.Device, 0, len(c.devices))
	for _, d := range c.devices {
		proxies = append(proxies, d)
	}
	c.devices = make(map[string]*bus.Device)
	c.mu.Unlock()

	for _, d := range proxies {
		c.bus.DetachDevice(d)
	}
	c.logger.Info("Disconnected from remote server")
	close(c.done)
}

// proxyDriver forwards requests for one mirrored device upstream. Defines
// and updates always originate from the wire, so enumeration replays the
// definitions the bus already holds.
type proxyDriver struct {
	connector *Connector
	remote    string
}

func (p *proxyDriver) Attach(d *bus.Device) bus.Result { return bus.OK }
func (p *proxyDriver) Detach(d *bus.Device) bus.Result { return bus.OK }

func (p *proxyDriver) EnumerateProperties(d *bus.Device, c *bus.Client, tpl *property.Property) bus.Result {
	for _, prop := range d.Bus().DefinedProperties(d.Name) {
		if property.Match(prop, tpl) {
			d.DefineProperty(prop, "")
		}
	}
	return bus.OK
}

func (p *proxyDriver) ChangeProperty(d *bus.Device, c *bus.Client, prop *property.Property) bus.Result {
	upstream := prop.Snapshot()
	upstream.Device = p.remote
	return p.connector.send(&Envelope{Op: OpChange, Device: p.remote, Property: upstream})
}

func (p *proxyDriver) EnableBLOB(d *bus.Device, c *bus.Client, prop *property.Property, mode bus.BLOBMode) bus.Result {
	upstream := &property.Property{Device: p.remote, Name: prop.Name}
	return p.connector.send(&Envelope{Op: OpEnableBLOB, Device: p.remote, Mode: mode.String(), Property: upstream})
}
