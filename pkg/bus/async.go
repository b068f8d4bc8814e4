package bus

import "github.com/openastro/skybus/pkg/property"

// Async runs fn on a detached worker goroutine.
func Async(fn func()) {
	go fn()
}

// HandlePropertyAsync is the canonical pattern for offloading slow
// ChangeProperty work: fn runs on a detached worker under the device lock,
// keeping it serialised with the rest of the device's callbacks. The caller
// should snapshot the request property before handing it off.
func HandlePropertyAsync(fn func(d *Device, c *Client, p *property.Property) Result, d *Device, c *Client, p *property.Property) {
	go func() {
		d.lock.Lock()
		defer d.lock.Unlock()
		fn(d, c, p)
	}()
}
