package tcpjson

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// echoDriver exposes one number property and applies change requests to it.
type echoDriver struct {
	prop *property.Property
}

func newEchoDriver(device string) *echoDriver {
	p := property.InitNumber(nil, device, "POS", "Main", "Position", property.StateIdle, property.PermRW, 1)
	property.InitNumberItem(p.Items[0], "VALUE", "Value", 0, 360, 1, 0)
	return &echoDriver{prop: p}
}

func (e *echoDriver) Attach(d *bus.Device) bus.Result {
	return d.DefineProperty(e.prop, "")
}

func (e *echoDriver) EnumerateProperties(d *bus.Device, c *bus.Client, tpl *property.Property) bus.Result {
	if property.Match(e.prop, tpl) {
		d.DefineProperty(e.prop, "")
	}
	return bus.OK
}

func (e *echoDriver) ChangeProperty(d *bus.Device, c *bus.Client, p *property.Property) bus.Result {
	e.prop.CopyValues(p, false)
	e.prop.State = property.StateOK
	return d.UpdateProperty(e.prop, "")
}

func (e *echoDriver) EnableBLOB(d *bus.Device, c *bus.Client, p *property.Property, mode bus.BLOBMode) bus.Result {
	return bus.OK
}

func (e *echoDriver) Detach(d *bus.Device) bus.Result { return bus.OK }

// watcher records bus traffic on the mirroring side.
type watcher struct {
	mu      sync.Mutex
	defines map[string]*property.Property
	updates map[string]*property.Property
	deletes int
}

func newWatcher() *watcher {
	return &watcher{
		defines: make(map[string]*property.Property),
		updates: make(map[string]*property.Property),
	}
}

func (w *watcher) key(p *property.Property) string { return p.Device + "." + p.Name }

func (w *watcher) Attach(c *bus.Client) bus.Result { return bus.OK }
func (w *watcher) Detach(c *bus.Client) bus.Result { return bus.OK }

func (w *watcher) DefineProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.defines[w.key(p)] = p
	return bus.OK
}

func (w *watcher) UpdateProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates[w.key(p)] = p
	return bus.OK
}

func (w *watcher) DeleteProperty(c *bus.Client, d *bus.Device, p *property.Property, message string) bus.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deletes++
	return bus.OK
}

func (w *watcher) SendMessage(c *bus.Client, d *bus.Device, message string) bus.Result {
	return bus.OK
}

func (w *watcher) defined(key string) *property.Property {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.defines[key]
}

func (w *watcher) updated(key string) *property.Property {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates[key]
}

func (w *watcher) deleteCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deletes
}

func startPair(t *testing.T) (remote, local *bus.Bus, conn *Connector, w *watcher) {
	t.Helper()
	remote = bus.New(bus.Options{})
	t.Cleanup(remote.Close)
	require.Equal(t, bus.OK, remote.AttachDevice(bus.NewDevice("SIM", bus.InterfaceMount, newEchoDriver("SIM"))))

	srv := NewServer(remote, "127.0.0.1:0", nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	local = bus.New(bus.Options{})
	t.Cleanup(local.Close)
	w = newWatcher()
	require.Equal(t, bus.OK, local.AttachClient(bus.NewClient("watcher", w)))

	conn, err := Connect(local, srv.Addr().String(), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return remote, local, conn, w
}

func TestMirrorsRemoteDevice(t *testing.T) {
	_, local, conn, w := startPair(t)

	proxyName := "SIM@" + conn.addr
	require.Eventually(t, func() bool {
		return w.defined(proxyName+".POS") != nil
	}, 5*time.Second, 10*time.Millisecond, "remote definition never arrived")

	d := local.DeviceByName(proxyName)
	require.NotNil(t, d)
	assert.True(t, d.Remote)

	p := w.defined(proxyName + ".POS")
	require.Len(t, p.Items, 1)
	assert.Equal(t, "VALUE", p.Items[0].Name)
	assert.Equal(t, property.PermRW, p.Perm)
}

func TestChangeRoundTrip(t *testing.T) {
	_, local, conn, w := startPair(t)

	proxyName := "SIM@" + conn.addr
	require.Eventually(t, func() bool {
		return local.DeviceByName(proxyName) != nil && w.defined(proxyName+".POS") != nil
	}, 5*time.Second, 10*time.Millisecond)

	req := &property.Property{Device: proxyName, Name: "POS", Type: property.TypeNumber}
	req.Items = []*property.Item{{Name: "VALUE"}}
	req.Items[0].Number.Value = 42

	client := bus.NewClient("operator", newWatcher())
	require.Equal(t, bus.OK, local.AttachClient(client))
	require.Equal(t, bus.OK, client.ChangeProperty(req))

	require.Eventually(t, func() bool {
		p := w.updated(proxyName + ".POS")
		return p != nil && p.Items[0].Number.Value == 42 && p.State == property.StateOK
	}, 5*time.Second, 10*time.Millisecond, "change never echoed back")
}

func TestRemoteUpdatePropagates(t *testing.T) {
	remote, _, conn, w := startPair(t)

	proxyName := "SIM@" + conn.addr
	require.Eventually(t, func() bool {
		return w.defined(proxyName+".POS") != nil
	}, 5*time.Second, 10*time.Millisecond)

	d := remote.DeviceByName("SIM")
	require.NotNil(t, d)
	drv := newEchoDriver("SIM")
	drv.prop.Items[0].Number.Value = 180
	drv.prop.State = property.StateBusy
	require.Equal(t, bus.OK, d.UpdateProperty(drv.prop, "slewing"))

	require.Eventually(t, func() bool {
		p := w.updated(proxyName + ".POS")
		return p != nil && p.Items[0].Number.Value == 180 && p.State == property.StateBusy
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDisconnectDetachesProxies(t *testing.T) {
	_, local, conn, w := startPair(t)

	proxyName := "SIM@" + conn.addr
	require.Eventually(t, func() bool {
		return local.DeviceByName(proxyName) != nil
	}, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Nil(t, local.DeviceByName(proxyName))
	assert.Positive(t, w.deleteCount(), "proxy deletion should be broadcast")
}

// blobDriver owns one image property and publishes frames on demand.
type blobDriver struct {
	prop *property.Property
}

func (bd *blobDriver) Attach(d *bus.Device) bus.Result {
	return d.DefineProperty(bd.prop, "")
}

func (bd *blobDriver) EnumerateProperties(d *bus.Device, c *bus.Client, tpl *property.Property) bus.Result {
	if property.Match(bd.prop, tpl) {
		d.DefineProperty(bd.prop, "")
	}
	return bus.OK
}

func (bd *blobDriver) ChangeProperty(d *bus.Device, c *bus.Client, p *property.Property) bus.Result {
	return bus.OK
}

func (bd *blobDriver) EnableBLOB(d *bus.Device, c *bus.Client, p *property.Property, mode bus.BLOBMode) bus.Result {
	return bus.OK
}

func (bd *blobDriver) Detach(d *bus.Device) bus.Result { return bus.OK }

func TestLargeBlobUpdateCrossesTheWire(t *testing.T) {
	remote := bus.New(bus.Options{})
	t.Cleanup(remote.Close)
	img := property.InitBLOB(nil, "CAM", "IMAGE", "Main", "Image", property.StateIdle, 1)
	property.InitBLOBItem(img.Items[0], "FRAME", "Frame")
	d := bus.NewDevice("CAM", bus.InterfaceCCD, &blobDriver{prop: img})
	require.Equal(t, bus.OK, remote.AttachDevice(d))

	srv := NewServer(remote, "127.0.0.1:0", nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	local := bus.New(bus.Options{})
	t.Cleanup(local.Close)
	w := newWatcher()
	c := bus.NewClient("watcher", w)
	require.Equal(t, bus.OK, local.AttachClient(c))

	conn, err := Connect(local, srv.Addr().String(), nil)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	proxyName := "CAM@" + conn.addr
	require.Eventually(t, func() bool {
		return w.defined(proxyName+".IMAGE") != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, bus.OK,
		c.EnableBLOB(&property.Property{Device: proxyName, Name: "IMAGE"}, bus.BLOBAlso))

	// Base64 inflates the frame by 4/3, so the wire line runs well past
	// 20 MB; it must still fit in one scan.
	frame := make([]byte, 17<<20)
	for i := range frame {
		frame[i] = byte(i)
	}

	// The enable request travels asynchronously; republish until the
	// content makes it through.
	require.Eventually(t, func() bool {
		d.Lock()
		img.Items[0].SetBlob(frame, ".fits")
		img.State = property.StateOK
		d.UpdateProperty(img, "")
		d.Unlock()
		p := w.updated(proxyName + ".IMAGE")
		return p != nil && len(p.Items[0].Blob.Value) == len(frame)
	}, 10*time.Second, 250*time.Millisecond, "large frame never crossed the wire")

	p := w.updated(proxyName + ".IMAGE")
	assert.True(t, bytes.Equal(frame, p.Items[0].Blob.Value), "frame content corrupted in transit")
	assert.Equal(t, int64(len(frame)), p.Items[0].Blob.Size)
	assert.Equal(t, ".fits", p.Items[0].Blob.Format)
}
