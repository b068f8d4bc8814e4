package bus

import (
	"go.uber.org/zap"

	"github.com/openastro/skybus/pkg/property"
)

// DefineProperty broadcasts a property definition to every attached client.
// The property becomes defined; BLOB items are interned in the BLOB
// registry. Fan-out is synchronous in client slot order.
func (b *Bus) DefineProperty(d *Device, p *property.Property, message string) Result {
	if b.strict {
		d.lock.Lock()
		defer d.lock.Unlock()
	}
	p.Defined = true
	b.trackDefined(d, p)
	if p.Type == property.TypeBLOB {
		for _, it := range p.Items {
			b.blobs.intern(p.Device, p.Name, it.Name)
		}
	}
	b.logger.Debug("Define property",
		zap.String("device", p.Device),
		zap.String("property", p.Name))

	snap := p.Snapshot()
	for _, c := range b.Clients() {
		if selfLoop(d, c) {
			continue
		}
		c.observer.DefineProperty(c, d, snap, message)
	}
	return OK
}

// UpdateProperty broadcasts a property update. For BLOB properties the
// delivered items are substituted according to each receiving client's
// enable-BLOB mode, and the interned entries are refreshed first so
// concurrent readers always see a consistent snapshot.
func (b *Bus) UpdateProperty(d *Device, p *property.Property, message string) Result {
	if b.strict {
		d.lock.Lock()
		defer d.lock.Unlock()
	}
	if !p.Defined {
		b.logger.Warn("Update of undefined property",
			zap.String("device", p.Device),
			zap.String("property", p.Name))
	}
	b.logger.Debug("Update property",
		zap.String("device", p.Device),
		zap.String("property", p.Name),
		zap.String("state", p.State.String()))

	if p.Type == property.TypeBLOB {
		b.refreshBlobEntries(p)
		return b.updateBlob(d, p, message)
	}

	snap := p.Snapshot()
	for _, c := range b.Clients() {
		if selfLoop(d, c) {
			continue
		}
		c.observer.UpdateProperty(c, d, snap, message)
	}
	return OK
}

func (b *Bus) refreshBlobEntries(p *property.Property) {
	for _, it := range p.Items {
		e := b.blobs.intern(p.Device, p.Name, it.Name)
		data := it.Blob.Value
		if b.proxy && data != nil {
			// Cache a stable copy so late-joining URL-mode clients can
			// still fetch the frame after the driver reuses its buffer.
			data = append([]byte(nil), data...)
		}
		e.Store(data, it.Blob.Format)
	}
}

func (b *Bus) updateBlob(d *Device, p *property.Property, message string) Result {
	// Per-mode variants are built lazily; most deployments have clients in
	// a single mode.
	variants := map[BLOBMode]*property.Property{}
	variant := func(mode BLOBMode) *property.Property {
		if v, ok := variants[mode]; ok {
			return v
		}
		v := p.Snapshot()
		switch mode {
		case BLOBNever:
			for _, it := range v.Items {
				it.Blob.Value = nil
				it.Blob.Size = 0
				it.Blob.URL = ""
			}
		case BLOBURL:
			for _, it := range v.Items {
				it.Blob.Value = nil
				if it.Blob.URL == "" {
					if e := b.blobs.find(p.Device, p.Name, it.Name); e != nil {
						it.Blob.URL = b.blobURL(e.ID())
					}
				}
			}
		}
		variants[mode] = v
		return v
	}

	for _, c := range b.Clients() {
		if selfLoop(d, c) {
			continue
		}
		mode := c.BLOBMode(p.Device, p.Name)
		c.observer.UpdateProperty(c, d, variant(mode), message)
	}
	return OK
}

// DeleteProperty broadcasts removal of a property. An empty property name
// means "all properties of this device": each defined property is deleted
// individually, preserving the per-property ordering guarantee. The device
// stays attached either way.
func (b *Bus) DeleteProperty(d *Device, p *property.Property, message string) Result {
	if b.strict {
		d.lock.Lock()
		defer d.lock.Unlock()
	}
	if p.Name == "" {
		b.mu.Lock()
		all := append([]*property.Property(nil), b.defined[deviceKey(d, p)]...)
		b.mu.Unlock()
		for _, q := range all {
			b.DeleteProperty(d, q, message)
		}
		return OK
	}

	p.Defined = false
	b.untrackDefined(d, p)
	b.blobs.release(p.Device, p.Name)
	b.logger.Debug("Delete property",
		zap.String("device", p.Device),
		zap.String("property", p.Name))

	snap := p.Snapshot()
	for _, c := range b.Clients() {
		if selfLoop(d, c) {
			continue
		}
		c.observer.DeleteProperty(c, d, snap, message)
	}
	return OK
}

// ChangeProperty routes a client's change request to the device named by
// p.Device. The access token check precedes delivery; a mismatch returns
// LockError without invoking the device, and the requesting client alone
// receives an Alert update explaining the refusal.
func (b *Bus) ChangeProperty(c *Client, p *property.Property) Result {
	d := b.DeviceByName(p.Device)
	if d == nil {
		b.logger.Debug("Change request for unknown device",
			zap.String("device", p.Device),
			zap.String("property", p.Name))
		return NotFound
	}

	if !b.tokens.admit(d.AccessToken, p.AccessToken) {
		b.logger.Warn("Change request blocked by access token",
			zap.String("device", p.Device),
			zap.String("property", p.Name),
			zap.String("client", c.Name))
		refusal := p.Snapshot()
		refusal.State = property.StateAlert
		c.observer.UpdateProperty(c, d, refusal, "change request blocked: access token mismatch")
		return LockError
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	return d.driver.ChangeProperty(d, c, p)
}

// EnableBLOB records the client's BLOB policy for the (device, property)
// wildcard pair of tpl and invokes the EnableBLOB callback of every matched
// device, so devices may allocate or free URL endpoints.
func (b *Bus) EnableBLOB(c *Client, tpl *property.Property, mode BLOBMode) Result {
	c.setBLOBMode(tpl, mode)
	matched := false
	for _, d := range b.deviceSnapshot() {
		if tpl.Device != "" && tpl.Device != d.Name {
			continue
		}
		matched = true
		d.lock.Lock()
		d.driver.EnableBLOB(d, c, tpl, mode)
		d.lock.Unlock()
	}
	if tpl.Device != "" && !matched {
		return NotFound
	}
	return OK
}

// SendMessage delivers free-form text from a device to every client.
func (b *Bus) SendMessage(d *Device, message string) Result {
	for _, c := range b.Clients() {
		if selfLoop(d, c) {
			continue
		}
		c.observer.SendMessage(c, d, message)
	}
	return OK
}

// selfLoop suppresses delivery of a device's own traffic to the client face
// of the same agent.
func selfLoop(d *Device, c *Client) bool {
	return d != nil && c.Name != "" && c.Name == d.Name
}

func deviceKey(d *Device, p *property.Property) string {
	if p != nil && p.Device != "" {
		return p.Device
	}
	return d.Name
}

func (b *Bus) trackDefined(d *Device, p *property.Property) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := deviceKey(d, p)
	for i, q := range b.defined[key] {
		if q == p || q.Name == p.Name {
			b.defined[key][i] = p
			return
		}
	}
	b.defined[key] = append(b.defined[key], p)
}

func (b *Bus) untrackDefined(d *Device, p *property.Property) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := deviceKey(d, p)
	props := b.defined[key]
	for i, q := range props {
		if q == p || q.Name == p.Name {
			q.Defined = false
			b.defined[key] = append(props[:i], props[i+1:]...)
			break
		}
	}
	if len(b.defined[key]) == 0 {
		delete(b.defined, key)
	}
}
