package bus

// Agent is an entity attached twice: its Driver face exposes control
// properties as a device, its Observer face subscribes to other devices'
// properties as a client. Both faces share one name, which is what the
// dispatcher uses to suppress self-loops.
type Agent struct {
	Device *Device
	Client *Client
}

// NewAgent builds both faces of an agent over shared private state. The
// device carries the agent interface bit in addition to iface.
func NewAgent(name string, iface Interface, driver Driver, observer Observer) *Agent {
	return &Agent{
		Device: NewDevice(name, iface|InterfaceAgent, driver),
		Client: NewClient(name, observer),
	}
}

// AttachAgent attaches the device face, then the client face. On any
// failure the already-attached face is rolled back.
func (b *Bus) AttachAgent(a *Agent) Result {
	if r := b.AttachDevice(a.Device); r != OK {
		return r
	}
	if r := b.AttachClient(a.Client); r != OK {
		b.DetachDevice(a.Device)
		return r
	}
	return OK
}

// DetachAgent detaches the client face, then the device face.
func (b *Bus) DetachAgent(a *Agent) Result {
	if r := b.DetachClient(a.Client); r != OK {
		return r
	}
	return b.DetachDevice(a.Device)
}
