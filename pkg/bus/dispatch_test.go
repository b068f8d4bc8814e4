package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openastro/skybus/pkg/property"
)

func TestPerDeviceOrderingPreserved(t *testing.T) {
	b := New(Options{StrictLocking: true})
	defer b.Close()

	rec := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", rec)))

	p := numberProp("D1", "POS", 0, 100, 0)
	d := NewDevice("D1", 0, &testDriver{props: []*property.Property{p}})
	require.Equal(t, OK, b.AttachDevice(d))

	d.Lock()
	for i := 1; i <= 5; i++ {
		p.Item(0).Number.Value = float64(i)
		d.UpdateProperty(p, "")
	}
	d.Unlock()

	updates := rec.named("update", "POS")
	require.Len(t, updates, 5)
	for i, e := range updates {
		assert.Equal(t, float64(i+1), e.prop.Item(0).Number.Value)
	}
}

func TestDefinePrecedesUpdatePrecedesDelete(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	rec := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", rec)))

	p := numberProp("D1", "POS", 0, 10, 5)
	d := NewDevice("D1", 0, &testDriver{props: []*property.Property{p}})
	require.Equal(t, OK, b.AttachDevice(d))

	d.Lock()
	d.UpdateProperty(p, "")
	d.DeleteProperty(p, "")
	d.Unlock()

	var kinds []string
	for _, e := range rec.all() {
		if e.prop != nil && e.prop.Name == "POS" {
			kinds = append(kinds, e.kind)
		}
	}
	assert.Equal(t, []string{"define", "update", "delete"}, kinds)
	assert.False(t, p.Defined, "delete clears the defined flag")
}

func TestDeleteAllPropertiesWithEmptyName(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	rec := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", rec)))

	drv := &testDriver{props: []*property.Property{
		numberProp("D1", "POS", 0, 10, 5),
		numberProp("D1", "SPEED", 0, 5, 1),
	}}
	d := NewDevice("D1", 0, drv)
	require.Equal(t, OK, b.AttachDevice(d))
	require.Len(t, rec.byKind("define"), 2)

	// Empty name deletes every property but does not detach the device.
	d.DeleteProperty(&property.Property{Device: "D1"}, "")
	assert.Len(t, rec.byKind("delete"), 2)
	assert.NotNil(t, b.DeviceByName("D1"))
	assert.Empty(t, b.DefinedProperties("D1"))
}

func TestUpdateSnapshotsAreIsolatedFromDriverMutation(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	rec := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", rec)))

	p := numberProp("D1", "POS", 0, 10, 1)
	d := NewDevice("D1", 0, &testDriver{props: []*property.Property{p}})
	require.Equal(t, OK, b.AttachDevice(d))

	d.Lock()
	d.UpdateProperty(p, "")
	p.Item(0).Number.Value = 9 // later driver mutation
	d.Unlock()

	updates := rec.named("update", "POS")
	require.Len(t, updates, 1)
	assert.Equal(t, 1.0, updates[0].prop.Item(0).Number.Value)
}

func TestChangePropertyRoutesToDriver(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	var got *property.Property
	drv := &testDriver{
		props: []*property.Property{numberProp("D1", "POS", 0, 10, 5)},
		onChange: func(d *Device, c *Client, p *property.Property) Result {
			got = p
			return OK
		},
	}
	d := NewDevice("D1", 0, drv)
	require.Equal(t, OK, b.AttachDevice(d))

	c := NewClient("C1", &recorder{})
	require.Equal(t, OK, b.AttachClient(c))

	req := numberProp("D1", "POS", 0, 10, 7)
	assert.Equal(t, OK, c.ChangeProperty(req))
	require.NotNil(t, got)
	assert.Equal(t, 7.0, got.Item(0).Number.Value)
}

func TestAccessTokenGate(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	called := false
	drv := &testDriver{onChange: func(d *Device, c *Client, p *property.Property) Result {
		called = true
		return OK
	}}
	d := NewDevice("MOUNT", 0, drv)
	d.AccessToken = 0x1234
	require.Equal(t, OK, b.AttachDevice(d))

	rec := &recorder{}
	c := NewClient("C1", rec)
	require.Equal(t, OK, b.AttachClient(c))

	req := numberProp("MOUNT", "PARK", 0, 1, 1)
	req.AccessToken = 0
	assert.Equal(t, LockError, c.ChangeProperty(req))
	assert.False(t, called, "device must not be invoked on token mismatch")

	// The requesting client receives an Alert update mentioning the token.
	updates := rec.byKind("update")
	require.Len(t, updates, 1)
	assert.Equal(t, property.StateAlert, updates[0].prop.State)
	assert.Contains(t, updates[0].message, "token")

	req.AccessToken = 0x1234
	assert.Equal(t, OK, c.ChangeProperty(req))
	assert.True(t, called)
}

func TestMasterTokenOverride(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	drv := &testDriver{}
	d := NewDevice("MOUNT", 0, drv)
	d.AccessToken = 0x1234
	require.Equal(t, OK, b.AttachDevice(d))

	c := NewClient("C1", &recorder{})
	require.Equal(t, OK, b.AttachClient(c))

	req := numberProp("MOUNT", "PARK", 0, 1, 1)
	req.AccessToken = 0xBEEF
	assert.Equal(t, LockError, c.ChangeProperty(req))

	b.SetMasterToken(0xBEEF)
	assert.Equal(t, OK, c.ChangeProperty(req))

	b.SetMasterToken(0)
	assert.Equal(t, LockError, c.ChangeProperty(req))
}

func TestBlobDeliveryModes(t *testing.T) {
	b := New(Options{Proxy: true})
	defer b.Close()

	img := property.InitBLOB(nil, "CAM", "IMAGE", "Main", "Image", property.StateIdle, 1)
	property.InitBLOBItem(img.Item(0), "F", "Frame")
	d := NewDevice("CAM", InterfaceCCD, &testDriver{props: []*property.Property{img}})
	require.Equal(t, OK, b.AttachDevice(d))

	recAlso := &recorder{}
	recNever := &recorder{}
	recURL := &recorder{}
	cAlso := NewClient("C1", recAlso)
	cNever := NewClient("C2", recNever)
	cURL := NewClient("C3", recURL)
	for _, c := range []*Client{cAlso, cNever, cURL} {
		require.Equal(t, OK, b.AttachClient(c))
	}
	require.Equal(t, OK, cAlso.EnableBLOB(&property.Property{Device: "CAM", Name: "IMAGE"}, BLOBAlso))
	require.Equal(t, OK, cURL.EnableBLOB(&property.Property{Device: "CAM", Name: "IMAGE"}, BLOBURL))

	frame := make([]byte, 1024)
	for i := range frame {
		frame[i] = byte(i)
	}
	d.Lock()
	img.State = property.StateOK
	img.Item(0).SetBlob(frame, ".fits")
	img.Item(0).Blob.URL = "http://localhost/blob/F"
	d.UpdateProperty(img, "")
	d.Unlock()

	also := recAlso.named("update", "IMAGE")
	require.Len(t, also, 1)
	assert.Equal(t, frame, also[0].prop.Item(0).Blob.Value)
	assert.Equal(t, int64(1024), also[0].prop.Item(0).Blob.Size)
	assert.Equal(t, property.StateOK, also[0].prop.State)

	never := recNever.named("update", "IMAGE")
	require.Len(t, never, 1)
	assert.Nil(t, never[0].prop.Item(0).Blob.Value)
	assert.Zero(t, never[0].prop.Item(0).Blob.Size)
	assert.Equal(t, property.StateOK, never[0].prop.State)

	url := recURL.named("update", "IMAGE")
	require.Len(t, url, 1)
	assert.Nil(t, url[0].prop.Item(0).Blob.Value)
	assert.Equal(t, "http://localhost/blob/F", url[0].prop.Item(0).Blob.URL)

	// The interned entry carries a stable proxy copy.
	entry := b.BlobEntry("CAM", "IMAGE", "F")
	require.NotNil(t, entry)
	data, size, format := entry.Snapshot()
	assert.Equal(t, frame, data)
	assert.Equal(t, int64(1024), size)
	assert.Equal(t, ".fits", format)
	assert.True(t, b.ValidateBlob("CAM", "IMAGE", img.Item(0)))
	assert.Same(t, entry, b.BlobEntryByID(entry.ID()))
}

func TestURLModeFallsBackToBusBase(t *testing.T) {
	b := New(Options{Proxy: true})
	defer b.Close()
	b.SetBlobURLBase("http://obs.example:8080/")

	img := property.InitBLOB(nil, "CAM", "IMAGE", "Main", "Image", property.StateIdle, 1)
	property.InitBLOBItem(img.Item(0), "F", "Frame")
	d := NewDevice("CAM", InterfaceCCD, &testDriver{props: []*property.Property{img}})
	require.Equal(t, OK, b.AttachDevice(d))

	recURL := &recorder{}
	recAlso := &recorder{}
	cURL := NewClient("C1", recURL)
	cAlso := NewClient("C2", recAlso)
	require.Equal(t, OK, b.AttachClient(cURL))
	require.Equal(t, OK, b.AttachClient(cAlso))
	require.Equal(t, OK, cURL.EnableBLOB(&property.Property{Device: "CAM", Name: "IMAGE"}, BLOBURL))
	require.Equal(t, OK, cAlso.EnableBLOB(&property.Property{Device: "CAM", Name: "IMAGE"}, BLOBAlso))

	d.Lock()
	img.Item(0).SetBlob([]byte{1, 2, 3}, ".fits")
	img.State = property.StateOK
	d.UpdateProperty(img, "")
	d.Unlock()

	entry := b.BlobEntry("CAM", "IMAGE", "F")
	require.NotNil(t, entry)

	// The driver set no URL of its own, so the URL-mode client gets the
	// interned entry's address under the published base.
	url := recURL.named("update", "IMAGE")
	require.Len(t, url, 1)
	assert.Nil(t, url[0].prop.Item(0).Blob.Value)
	assert.Equal(t, "http://obs.example:8080/blob/"+entry.ID(), url[0].prop.Item(0).Blob.URL)

	also := recAlso.named("update", "IMAGE")
	require.Len(t, also, 1)
	assert.Equal(t, []byte{1, 2, 3}, also[0].prop.Item(0).Blob.Value)
	assert.Empty(t, also[0].prop.Item(0).Blob.URL, "inline delivery needs no URL")
}

func TestBlobEntriesReleasedOnDelete(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	img := property.InitBLOB(nil, "CAM", "IMAGE", "Main", "Image", property.StateIdle, 1)
	property.InitBLOBItem(img.Item(0), "F", "Frame")
	d := NewDevice("CAM", InterfaceCCD, &testDriver{props: []*property.Property{img}})
	require.Equal(t, OK, b.AttachDevice(d))

	rec := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", rec)))
	require.NotNil(t, b.BlobEntry("CAM", "IMAGE", "F"))

	d.DeleteProperty(img, "")
	assert.Nil(t, b.BlobEntry("CAM", "IMAGE", "F"))
}

func TestEnableBLOBInvokesDeviceCallback(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	var gotMode BLOBMode
	var gotProp string
	drv := &testDriver{onBLOB: func(d *Device, c *Client, p *property.Property, mode BLOBMode) Result {
		gotMode = mode
		gotProp = p.Name
		return OK
	}}
	require.Equal(t, OK, b.AttachDevice(NewDevice("CAM", InterfaceCCD, drv)))

	c := NewClient("C1", &recorder{})
	require.Equal(t, OK, b.AttachClient(c))
	require.Equal(t, OK, c.EnableBLOB(&property.Property{Device: "CAM", Name: "IMAGE"}, BLOBURL))

	assert.Equal(t, BLOBURL, gotMode)
	assert.Equal(t, "IMAGE", gotProp)
	assert.Equal(t, BLOBURL, c.BLOBMode("CAM", "IMAGE"))
	assert.Equal(t, BLOBNever, c.BLOBMode("CAM", "OTHER"))

	assert.Equal(t, NotFound, c.EnableBLOB(&property.Property{Device: "NOPE"}, BLOBAlso))
}

func TestAgentSelfLoopSuppression(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	rec := &recorder{}
	p := numberProp("AGENT", "STATE", 0, 1, 0)
	agent := NewAgent("AGENT", 0, &testDriver{props: []*property.Property{p}}, rec)
	require.Equal(t, OK, b.AttachAgent(agent))

	other := &recorder{}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", other)))

	agent.Device.Lock()
	agent.Device.UpdateProperty(p, "")
	agent.Device.SendMessage("hello")
	agent.Device.Unlock()

	// The plain client sees everything; the agent's own client face sees
	// nothing of its device face's traffic.
	assert.NotEmpty(t, other.byKind("update"))
	assert.NotEmpty(t, other.byKind("message"))
	assert.Empty(t, rec.named("update", "STATE"))
	assert.Empty(t, rec.byKind("message"))
	assert.Empty(t, rec.named("define", "STATE"))

	require.Equal(t, OK, b.DetachAgent(agent))
}

func TestStrictLockingSerialisesDispatch(t *testing.T) {
	b := New(Options{StrictLocking: true})
	defer b.Close()

	var inCallback int32
	var maxSeen int32
	var mu sync.Mutex
	slow := &slowObserver{enter: func() {
		mu.Lock()
		inCallback++
		if inCallback > maxSeen {
			maxSeen = inCallback
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inCallback--
		mu.Unlock()
	}}
	require.Equal(t, OK, b.AttachClient(NewClient("C1", slow)))

	p := numberProp("D1", "POS", 0, 100, 0)
	d := NewDevice("D1", 0, &testDriver{props: []*property.Property{p}})
	require.Equal(t, OK, b.AttachDevice(d))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				d.UpdateProperty(p, "")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen, "no two dispatcher callbacks for one device may overlap")
}

type slowObserver struct {
	enter func()
}

func (s *slowObserver) Attach(c *Client) Result { return OK }
func (s *slowObserver) Detach(c *Client) Result { return OK }
func (s *slowObserver) DefineProperty(c *Client, d *Device, p *property.Property, m string) Result {
	return OK
}
func (s *slowObserver) UpdateProperty(c *Client, d *Device, p *property.Property, m string) Result {
	s.enter()
	return OK
}
func (s *slowObserver) DeleteProperty(c *Client, d *Device, p *property.Property, m string) Result {
	return OK
}
func (s *slowObserver) SendMessage(c *Client, d *Device, m string) Result { return OK }
