package simulator

import (
	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// Simulated frame geometry.
const (
	frameWidth  = 64
	frameHeight = 48
)

// ccdDriver simulates a camera: exposures count down on timer ticks and
// finish by publishing a generated frame through the image BLOB.
type ccdDriver struct {
	opts Options

	connection *property.Property
	exposure   *property.Property
	image      *property.Property
	config     *property.Property

	frameCount int
	exposing   bool
}

// NewCCDDevice builds a simulated camera device ready for AttachDevice.
func NewCCDDevice(name string, opts Options) *bus.Device {
	return bus.NewDevice(name, bus.InterfaceCCD, &ccdDriver{opts: opts.withDefaults()})
}

func (cd *ccdDriver) Attach(d *bus.Device) bus.Result {
	cd.connection = connectionProperty(d.Name)

	cd.exposure = property.InitNumber(nil, d.Name, ExposurePropertyName, "Main",
		"Start exposure", property.StateIdle, property.PermRW, 1)
	property.InitNumberItem(cd.exposure.Items[0], ExposureItemName, "Exposure time (s)", 0, 3600, 1, 0)

	cd.image = property.InitBLOB(nil, d.Name, ImagePropertyName, "Main",
		"Image data", property.StateIdle, 1)
	property.InitBLOBItem(cd.image.Items[0], ImageItemName, "Frame")

	d.DefineProperty(cd.connection, "")
	d.DefineProperty(cd.exposure, "")
	d.DefineProperty(cd.image, "")
	if cd.opts.ProfileDir != "" {
		cd.config = configProperty(d.Name)
		d.DefineProperty(cd.config, "")
	}
	return bus.OK
}

func (cd *ccdDriver) properties() []*property.Property {
	props := []*property.Property{cd.connection, cd.exposure, cd.image}
	if cd.config != nil {
		props = append(props, cd.config)
	}
	return props
}

func (cd *ccdDriver) EnumerateProperties(d *bus.Device, c *bus.Client, tpl *property.Property) bus.Result {
	for _, p := range cd.properties() {
		if property.Match(p, tpl) {
			d.DefineProperty(p, "")
		}
	}
	return bus.OK
}

func (cd *ccdDriver) ChangeProperty(d *bus.Device, c *bus.Client, p *property.Property) bus.Result {
	switch p.Name {
	case bus.ConnectionPropertyName:
		cd.connection.ApplySwitches(p)
		cd.connection.State = property.StateOK
		return d.UpdateProperty(cd.connection, "")
	case ExposurePropertyName:
		return cd.startExposure(d, p)
	case ConfigPropertyName:
		if cd.config == nil {
			return bus.NotFound
		}
		return changeConfig(d, cd.config, p, cd.opts.ProfileDir,
			[]*property.Property{cd.exposure})
	}
	return bus.NotFound
}

func (cd *ccdDriver) startExposure(d *bus.Device, p *property.Property) bus.Result {
	if !connected(cd.connection) {
		cd.exposure.State = property.StateAlert
		return d.UpdateProperty(cd.exposure, "camera is not connected")
	}
	if cd.exposing {
		cd.exposure.State = property.StateAlert
		return d.UpdateProperty(cd.exposure, "exposure already in progress")
	}
	if !targetsInRange(cd.exposure, p) {
		cd.exposure.State = property.StateAlert
		return d.UpdateProperty(cd.exposure, "exposure time out of range")
	}
	cd.exposure.CopyTargets(p, false)
	it := cd.exposure.Items[0]

	cd.exposing = true
	it.Number.Value = it.Number.Target
	cd.exposure.State = property.StateBusy
	cd.image.State = property.StateBusy
	d.UpdateProperty(cd.exposure, "")
	d.UpdateProperty(cd.image, "")
	d.SetTimer(cd.opts.ExposureTick, func() { cd.exposureTick(d) })
	return bus.OK
}

// exposureTick runs under the device lock on a timer worker.
func (cd *ccdDriver) exposureTick(d *bus.Device) {
	if !cd.exposing {
		return
	}
	it := cd.exposure.Items[0]
	it.Number.Value--
	if it.Number.Value > 0 {
		d.UpdateProperty(cd.exposure, "")
		d.SetTimer(cd.opts.ExposureTick, func() { cd.exposureTick(d) })
		return
	}

	it.Number.Value = 0
	cd.exposing = false
	cd.exposure.State = property.StateOK
	d.UpdateProperty(cd.exposure, "")

	cd.frameCount++
	cd.image.Items[0].SetBlob(cd.renderFrame(), ".fits")
	cd.image.State = property.StateOK
	d.UpdateProperty(cd.image, "exposure complete")
}

// renderFrame produces a deterministic gradient with a moving stripe, so
// consecutive frames differ.
func (cd *ccdDriver) renderFrame() []byte {
	frame := make([]byte, frameWidth*frameHeight)
	stripe := cd.frameCount % frameHeight
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			v := byte((x * 255) / frameWidth)
			if y == stripe {
				v = 255
			}
			frame[y*frameWidth+x] = v
		}
	}
	return frame
}

func (cd *ccdDriver) EnableBLOB(d *bus.Device, c *bus.Client, p *property.Property, mode bus.BLOBMode) bus.Result {
	return bus.OK
}

func (cd *ccdDriver) Detach(d *bus.Device) bus.Result { return bus.OK }
