package simulator

import (
	"fmt"

	"github.com/openastro/skybus/internal/hotplug"
	"github.com/openastro/skybus/pkg/bus"
)

// Synthetic hardware identifiers for the simulated devices.
const (
	VendorID       uint16 = 0x5342 // "SB"
	MountProductID uint16 = 0x0001
	CCDProductID   uint16 = 0x0002
)

// HotplugHandler plugs simulated hardware through the regular hot-plug
// path, so the server attaches simulators exactly like physical devices.
type HotplugHandler struct {
	Opts Options
}

func (h *HotplugHandler) Match(id hotplug.Identity) bool {
	return id.VendorID == VendorID
}

func (h *HotplugHandler) Devices(id hotplug.Identity) []*bus.Device {
	switch id.ProductID {
	case MountProductID:
		return []*bus.Device{NewMountDevice("Mount Simulator", h.Opts)}
	case CCDProductID:
		return []*bus.Device{NewCCDDevice("CCD Simulator", h.Opts)}
	}
	return nil
}

// MountIdentity returns the synthetic identity of the n-th simulated mount.
func MountIdentity(n int) hotplug.Identity {
	return hotplug.Identity{VendorID: VendorID, ProductID: MountProductID, Serial: serial("mount", n)}
}

// CCDIdentity returns the synthetic identity of the n-th simulated camera.
func CCDIdentity(n int) hotplug.Identity {
	return hotplug.Identity{VendorID: VendorID, ProductID: CCDProductID, Serial: serial("ccd", n)}
}

func serial(kind string, n int) string {
	return fmt.Sprintf("%s-%d", kind, n)
}
