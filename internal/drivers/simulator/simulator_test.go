package simulator

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// feed records every update snapshot per property name.
type feed struct {
	mu      sync.Mutex
	updates map[string][]*property.Property
}

func newFeed() *feed { return &feed{updates: make(map[string][]*property.Property)} }

func (f *feed) Attach(c *bus.Client) bus.Result { return bus.OK }
func (f *feed) Detach(c *bus.Client) bus.Result { return bus.OK }
func (f *feed) DefineProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return bus.OK
}
func (f *feed) UpdateProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[p.Name] = append(f.updates[p.Name], p)
	return bus.OK
}
func (f *feed) DeleteProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	return bus.OK
}
func (f *feed) SendMessage(c *bus.Client, d *bus.Device, message string) bus.Result {
	return bus.OK
}

func (f *feed) last(name string) *property.Property {
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := f.updates[name]
	if len(ups) == 0 {
		return nil
	}
	return ups[len(ups)-1]
}

func (f *feed) states(name string) []property.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []property.State
	for _, p := range f.updates[name] {
		out = append(out, p.State)
	}
	return out
}

func setup(t *testing.T, device *bus.Device) (*bus.Bus, *bus.Client, *feed) {
	t.Helper()
	b := bus.New(bus.Options{Proxy: true})
	t.Cleanup(b.Close)
	require.Equal(t, bus.OK, b.AttachDevice(device))
	f := newFeed()
	c := bus.NewClient("test", f)
	require.Equal(t, bus.OK, b.AttachClient(c))
	return b, c, f
}

func switchChange(device, prop string, items map[string]bool) *property.Property {
	p := property.InitSwitch(nil, device, prop, "", "", property.StateIdle,
		property.PermRW, property.RuleAnyOfMany, 0)
	for name, on := range items {
		p.Resize(p.Count() + 1)
		it := p.Items[p.Count()-1]
		property.InitSwitchItem(it, name, "", on)
	}
	return p
}

func numberChange(device, prop string, items map[string]float64) *property.Property {
	p := property.InitNumber(nil, device, prop, "", "", property.StateIdle, property.PermRW, 0)
	for name, v := range items {
		p.Resize(p.Count() + 1)
		it := p.Items[p.Count()-1]
		property.InitNumberItem(it, name, "", 0, 0, 0, v)
	}
	return p
}

func connect(t *testing.T, c *bus.Client, device string) {
	t.Helper()
	require.Equal(t, bus.OK, c.ChangeProperty(switchChange(device, bus.ConnectionPropertyName,
		map[string]bool{bus.ConnectedItemName: true})))
}

func unpark(t *testing.T, c *bus.Client, device string) {
	t.Helper()
	require.Equal(t, bus.OK, c.ChangeProperty(switchChange(device, ParkPropertyName,
		map[string]bool{UnparkedItemName: true})))
}

func TestMountSlewGoesBusyThenOK(t *testing.T) {
	_, c, f := setup(t, NewMountDevice("Mount", Options{SlewStep: 10 * time.Millisecond}))
	connect(t, c, "Mount")
	unpark(t, c, "Mount")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 12, DecItemName: 45})))

	first := f.last(CoordinatesPropertyName)
	require.NotNil(t, first)
	assert.Equal(t, property.StateBusy, first.State, "slew should go busy before it finishes")

	require.Eventually(t, func() bool {
		p := f.last(CoordinatesPropertyName)
		return p.State == property.StateOK
	}, 5*time.Second, 10*time.Millisecond, "slew never completed")

	final := f.last(CoordinatesPropertyName)
	assert.InDelta(t, 12, final.ItemByName(RAItemName).Number.Value, 1e-9)
	assert.InDelta(t, 45, final.ItemByName(DecItemName).Number.Value, 1e-9)

	states := f.states(CoordinatesPropertyName)
	assert.Contains(t, states, property.StateBusy)
	assert.Equal(t, property.StateOK, states[len(states)-1])
}

func TestSlewRejectedWhenParked(t *testing.T) {
	_, c, f := setup(t, NewMountDevice("Mount", Options{SlewStep: 10 * time.Millisecond}))
	connect(t, c, "Mount")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 12, DecItemName: 45})))

	p := f.last(CoordinatesPropertyName)
	require.NotNil(t, p)
	assert.Equal(t, property.StateAlert, p.State)
	assert.InDelta(t, 90, p.ItemByName(DecItemName).Number.Value, 1e-9, "parked position unchanged")
}

func TestSlewRejectedWhenDisconnected(t *testing.T) {
	_, c, f := setup(t, NewMountDevice("Mount", Options{SlewStep: 10 * time.Millisecond}))
	unpark(t, c, "Mount")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 1, DecItemName: 1})))
	assert.Equal(t, property.StateAlert, f.last(CoordinatesPropertyName).State)
}

func TestRejectedSlewKeepsTargetsInRange(t *testing.T) {
	_, c, f := setup(t, NewMountDevice("Mount", Options{SlewStep: 10 * time.Millisecond}))
	connect(t, c, "Mount")
	unpark(t, c, "Mount")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 99, DecItemName: 45})))

	p := f.last(CoordinatesPropertyName)
	require.NotNil(t, p)
	require.Equal(t, property.StateAlert, p.State)
	ra := p.ItemByName(RAItemName)
	assert.True(t, ra.Number.InRange(ra.Number.Target),
		"rejected request staged target %v outside [%v, %v]",
		ra.Number.Target, ra.Number.Min, ra.Number.Max)
	assert.InDelta(t, 0, ra.Number.Target, 1e-9)

	// A valid slew still works afterwards.
	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 12, DecItemName: 45})))
	require.Eventually(t, func() bool {
		return f.last(CoordinatesPropertyName).State == property.StateOK
	}, 5*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 12, f.last(CoordinatesPropertyName).ItemByName(RAItemName).Number.Value, 1e-9)
}

func TestRejectedExposureKeepsTargetInRange(t *testing.T) {
	_, c, f := setup(t, NewCCDDevice("Cam", Options{ExposureTick: 10 * time.Millisecond}))
	connect(t, c, "Cam")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Cam", ExposurePropertyName,
		map[string]float64{ExposureItemName: 4000})))

	p := f.last(ExposurePropertyName)
	require.NotNil(t, p)
	require.Equal(t, property.StateAlert, p.State)
	it := p.ItemByName(ExposureItemName)
	assert.True(t, it.Number.InRange(it.Number.Target))
	assert.Zero(t, it.Number.Target)
}

func TestExposureCountdownDeliversFrame(t *testing.T) {
	_, c, f := setup(t, NewCCDDevice("Cam", Options{ExposureTick: 10 * time.Millisecond}))
	connect(t, c, "Cam")
	require.Equal(t, bus.OK, c.EnableBLOB(&property.Property{Device: "Cam"}, bus.BLOBAlso))

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Cam", ExposurePropertyName,
		map[string]float64{ExposureItemName: 3})))

	require.Eventually(t, func() bool {
		p := f.last(ImagePropertyName)
		return p != nil && p.State == property.StateOK
	}, 5*time.Second, 10*time.Millisecond, "frame never arrived")

	exp := f.last(ExposurePropertyName)
	assert.Equal(t, property.StateOK, exp.State)
	assert.Zero(t, exp.ItemByName(ExposureItemName).Number.Value)

	img := f.last(ImagePropertyName)
	frame := img.ItemByName(ImageItemName)
	assert.Equal(t, ".fits", frame.Blob.Format)
	assert.Len(t, frame.Blob.Value, frameWidth*frameHeight)
	assert.Equal(t, int64(frameWidth*frameHeight), frame.Blob.Size)

	// The countdown was observable while the exposure ran.
	assert.Contains(t, f.states(ExposurePropertyName), property.StateBusy)
}

func TestOverlappingExposureRejected(t *testing.T) {
	_, c, f := setup(t, NewCCDDevice("Cam", Options{ExposureTick: 50 * time.Millisecond}))
	connect(t, c, "Cam")

	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Cam", ExposurePropertyName,
		map[string]float64{ExposureItemName: 10})))
	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Cam", ExposurePropertyName,
		map[string]float64{ExposureItemName: 1})))

	assert.Equal(t, property.StateAlert, f.last(ExposurePropertyName).State)
}

func TestProfileSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	_, c, f := setup(t, NewMountDevice("Mount", Options{
		SlewStep:   5 * time.Millisecond,
		ProfileDir: dir,
	}))
	connect(t, c, "Mount")
	unpark(t, c, "Mount")

	// Persist the home position.
	require.Equal(t, bus.OK, c.ChangeProperty(switchChange("Mount", ConfigPropertyName,
		map[string]bool{SaveItemName: true})))
	_, err := os.Stat(profilePath(dir, "Mount"))
	require.NoError(t, err)

	// Move away, then restore.
	require.Equal(t, bus.OK, c.ChangeProperty(numberChange("Mount", CoordinatesPropertyName,
		map[string]float64{RAItemName: 6, DecItemName: 10})))
	require.Eventually(t, func() bool {
		return f.last(CoordinatesPropertyName).State == property.StateOK
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, bus.OK, c.ChangeProperty(switchChange("Mount", ConfigPropertyName,
		map[string]bool{LoadItemName: true})))

	p := f.last(CoordinatesPropertyName)
	assert.InDelta(t, 0, p.ItemByName(RAItemName).Number.Value, 1e-9)
	assert.InDelta(t, 90, p.ItemByName(DecItemName).Number.Value, 1e-9)
	assert.Equal(t, property.StateOK, f.last(ConfigPropertyName).State)
}
