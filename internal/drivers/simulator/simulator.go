// Package simulator provides software-only mount and camera devices. They
// exercise the full property lifecycle, including slow operations finished
// by timer callbacks and BLOB frames, without any hardware attached.
package simulator

import (
	"time"

	"github.com/openastro/skybus/pkg/bus"
	"github.com/openastro/skybus/pkg/property"
)

// Options tunes the simulated hardware. Zero values select defaults fit
// for interactive use; tests shorten the intervals.
type Options struct {
	// SlewStep is the interval between simulated mount movement steps.
	SlewStep time.Duration

	// ExposureTick is the countdown granularity of simulated exposures.
	ExposureTick time.Duration

	// ProfileDir is where device profiles are saved. Empty disables the
	// CONFIG property.
	ProfileDir string
}

func (o Options) withDefaults() Options {
	if o.SlewStep == 0 {
		o.SlewStep = 200 * time.Millisecond
	}
	if o.ExposureTick == 0 {
		o.ExposureTick = time.Second
	}
	return o
}

// Property and item names shared with real drivers.
const (
	CoordinatesPropertyName = "EQUATORIAL_COORDINATES"
	RAItemName              = "RA"
	DecItemName             = "DEC"

	ParkPropertyName = "PARK"
	ParkedItemName   = "PARKED"
	UnparkedItemName = "UNPARKED"

	ExposurePropertyName = "CCD_EXPOSURE"
	ExposureItemName     = "EXPOSURE"

	ImagePropertyName = "CCD_IMAGE"
	ImageItemName     = "IMAGE"

	ConfigPropertyName = "CONFIG"
	SaveItemName       = "SAVE"
	LoadItemName       = "LOAD"
)

// connectionProperty builds the conventional CONNECTION switch.
func connectionProperty(device string) *property.Property {
	p := property.InitSwitch(nil, device, bus.ConnectionPropertyName, "Main", "Connection",
		property.StateOK, property.PermRW, property.RuleOneOfMany, 2)
	property.InitSwitchItem(p.Items[0], bus.ConnectedItemName, "Connected", false)
	property.InitSwitchItem(p.Items[1], bus.DisconnectedItemName, "Disconnected", true)
	return p
}

// configProperty builds the profile save/load switch.
func configProperty(device string) *property.Property {
	p := property.InitSwitch(nil, device, ConfigPropertyName, "Options", "Configuration",
		property.StateOK, property.PermRW, property.RuleAtMostOne, 2)
	property.InitSwitchItem(p.Items[0], SaveItemName, "Save", false)
	property.InitSwitchItem(p.Items[1], LoadItemName, "Load", false)
	return p
}

func connected(p *property.Property) bool {
	it := p.ItemByName(bus.ConnectedItemName)
	return it != nil && it.Switch
}

// targetsInRange checks a change request's number targets against the
// defined item bounds. Requests must be validated before their targets are
// staged, so a rejected request never leaves an out-of-range target behind.
func targetsInRange(defined, req *property.Property) bool {
	for _, from := range req.Items {
		if to := defined.ItemByName(from.Name); to != nil && !to.Number.InRange(from.Number.Target) {
			return false
		}
	}
	return true
}
