package mqttbridge

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// Event is the JSON payload published for bus traffic and accepted on the
// request topics.
type Event struct {
	Device   string             `json:"device,omitempty"`
	Message  string             `json:"message,omitempty"`
	Mode     string             `json:"mode,omitempty"`
	Property *property.Property `json:"property,omitempty"`
}

// Bridge attaches to the bus as one client and mirrors its event stream to
// the broker. Definitions are published retained so late subscribers see
// the current property set.
type Bridge struct {
	bus    *bus.Bus
	conn   Conn
	logger *zap.Logger
	client *bus.Client
	qos    byte
}

// NewBridge wires a bus to a broker connection. The connection must be
// established by the caller.
func NewBridge(b *bus.Bus, conn Conn, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := &Bridge{
		bus:    b,
		conn:   conn,
		logger: logger.With(zap.String("component", "mqttbridge")),
		qos:    1,
	}
	br.client = bus.NewClient("mqtt-bridge", br)
	br.client.Remote = true
	return br
}

// Start subscribes to the request topics and attaches to the bus, which
// replays every current definition through the observer.
func (br *Bridge) Start() error {
	if err := br.conn.Subscribe(RequestChangeTopic, br.qos, br.onChange); err != nil {
		return fmt.Errorf("failed to subscribe to change requests: %w", err)
	}
	if err := br.conn.Subscribe(RequestEnableBLOBTopic, br.qos, br.onEnableBLOB); err != nil {
		return fmt.Errorf("failed to subscribe to enable-BLOB requests: %w", err)
	}
	if err := br.conn.Subscribe(RequestGetTopic, br.qos, br.onGet); err != nil {
		return fmt.Errorf("failed to subscribe to get requests: %w", err)
	}
	if r := br.bus.AttachClient(br.client); r != bus.OK {
		return fmt.Errorf("failed to attach bridge client: %v", r)
	}
	br.logger.Info("MQTT bridge started")
	return nil
}

// Stop detaches the bridge from the bus.
func (br *Bridge) Stop() {
	br.bus.DetachClient(br.client)
	br.logger.Info("MQTT bridge stopped")
}

func (br *Bridge) publish(topic string, retained bool, ev *Event) bus.Result {
	data, err := json.Marshal(ev)
	if err != nil {
		br.logger.Error("Failed to marshal event", zap.Error(err))
		return bus.Failed
	}
	if err := br.conn.Publish(topic, br.qos, retained, data); err != nil {
		br.logger.Warn("Failed to publish event",
			zap.String("topic", topic),
			zap.Error(err))
		return bus.Failed
	}
	return bus.OK
}

func (br *Bridge) onChange(topic string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("malformed change request: %w", err)
	}
	if ev.Property == nil {
		return fmt.Errorf("change request without property")
	}
	if ev.Device != "" {
		ev.Property.Device = ev.Device
	}
	if r := br.client.ChangeProperty(ev.Property); r != bus.OK {
		br.logger.Debug("Change request rejected",
			zap.String("device", ev.Property.Device),
			zap.String("property", ev.Property.Name),
			zap.Stringer("result", r))
	}
	return nil
}

func (br *Bridge) onEnableBLOB(topic string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("malformed enable-BLOB request: %w", err)
	}
	mode, err := bus.ParseBLOBMode(ev.Mode)
	if err != nil {
		return err
	}
	tpl := ev.Property
	if tpl == nil {
		tpl = &property.Property{Device: ev.Device}
	}
	br.client.EnableBLOB(tpl, mode)
	return nil
}

func (br *Bridge) onGet(topic string, payload []byte) error {
	var ev Event
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("malformed get request: %w", err)
		}
	}
	tpl := ev.Property
	if tpl == nil {
		tpl = &property.Property{Device: ev.Device}
	}
	br.client.EnumerateProperties(tpl)
	return nil
}

// Observer implementation.

func (br *Bridge) Attach(c *bus.Client) bus.Result { return bus.OK }
func (br *Bridge) Detach(c *bus.Client) bus.Result { return bus.OK }

func (br *Bridge) DefineProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return br.publish(EventTopic(p.Device, p.Name, EventDefine), true,
		&Event{Device: p.Device, Message: message, Property: p})
}

func (br *Bridge) UpdateProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return br.publish(EventTopic(p.Device, p.Name, EventUpdate), false,
		&Event{Device: p.Device, Message: message, Property: p})
}

func (br *Bridge) DeleteProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	// Clear the retained definition alongside the delete event.
	_ = br.conn.Publish(EventTopic(p.Device, p.Name, EventDefine), br.qos, true, nil)
	return br.publish(EventTopic(p.Device, p.Name, EventDelete), false,
		&Event{Device: p.Device, Message: message, Property: p})
}

func (br *Bridge) SendMessage(c *bus.Client, d *bus.Device, message string) bus.Result {
	device := ""
	if d != nil {
		device = d.Name
	}
	return br.publish(MessageTopic(device), false, &Event{Device: device, Message: message})
}
