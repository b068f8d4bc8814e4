package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openastro/skybus/pkg/property"
)

// BLOBMode is a client's delivery policy for BLOB content.
type BLOBMode int

const (
	// BLOBNever delivers the update with size 0 and no bytes.
	BLOBNever BLOBMode = iota
	// BLOBAlso embeds the content in the update, passed by reference.
	BLOBAlso
	// BLOBURL delivers the update without bytes; the client fetches the
	// item URL over HTTP.
	BLOBURL
)

func (m BLOBMode) String() string {
	switch m {
	case BLOBNever:
		return "Never"
	case BLOBAlso:
		return "Also"
	case BLOBURL:
		return "URL"
	}
	return fmt.Sprintf("BLOBMode(%d)", int(m))
}

// ParseBLOBMode maps a wire name back to a BLOBMode.
func ParseBLOBMode(s string) (BLOBMode, error) {
	switch s {
	case "Never":
		return BLOBNever, nil
	case "Also":
		return BLOBAlso, nil
	case "URL":
		return BLOBURL, nil
	}
	return 0, fmt.Errorf("unknown BLOB mode %q", s)
}

// BlobEntry is the singleton record interned by the bus for a BLOB item a
// device has defined. Concurrent update writers serialise through the entry
// mutex, so readers always see a consistent snapshot.
type BlobEntry struct {
	device   string
	property string
	item     string
	id       string

	mu     sync.RWMutex
	value  []byte
	size   int64
	format string
}

// ID is the stable opaque identifier the HTTP endpoint serves this entry
// under.
func (e *BlobEntry) ID() string { return e.id }

// Device returns the owning device name.
func (e *BlobEntry) Device() string { return e.device }

// Property returns the owning property name.
func (e *BlobEntry) Property() string { return e.property }

// Item returns the item name.
func (e *BlobEntry) Item() string { return e.item }

// Store replaces the entry content.
func (e *BlobEntry) Store(data []byte, format string) {
	e.mu.Lock()
	e.value = data
	e.size = int64(len(data))
	e.format = format
	e.mu.Unlock()
}

// Snapshot returns the current content, its size and format. The slice is
// shared; readers treat it as read-only.
func (e *BlobEntry) Snapshot() (data []byte, size int64, format string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value, e.size, e.format
}

type blobRegistry struct {
	mu      sync.Mutex
	entries map[string]*BlobEntry
	byID    map[string]*BlobEntry
}

func blobKey(device, prop, item string) string {
	return device + "\x00" + prop + "\x00" + item
}

func (r *blobRegistry) intern(device, prop, item string) *BlobEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]*BlobEntry)
		r.byID = make(map[string]*BlobEntry)
	}
	key := blobKey(device, prop, item)
	if e, ok := r.entries[key]; ok {
		return e
	}
	e := &BlobEntry{device: device, property: prop, item: item, id: uuid.NewString()}
	r.entries[key] = e
	r.byID[e.id] = e
	return e
}

func (r *blobRegistry) find(device, prop, item string) *BlobEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[blobKey(device, prop, item)]
}

func (r *blobRegistry) findByID(id string) *BlobEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// release drops every entry of one property, called on delete_property.
func (r *blobRegistry) release(device, prop string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		if e.device == device && e.property == prop {
			delete(r.entries, key)
			delete(r.byID, e.id)
		}
	}
}

// SetBlobURLBase publishes the HTTP root under which interned BLOB entries
// are served. Once set, URL-mode updates whose items carry no URL of their
// own are delivered with base + "/blob/" + entry ID.
func (b *Bus) SetBlobURLBase(base string) {
	b.mu.Lock()
	b.urlBase = strings.TrimSuffix(base, "/")
	b.mu.Unlock()
}

func (b *Bus) blobURL(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.urlBase == "" {
		return ""
	}
	return b.urlBase + "/blob/" + id
}

// BlobEntry returns the interned record for one BLOB item, or nil when the
// device has not defined it.
func (b *Bus) BlobEntry(device, prop, item string) *BlobEntry {
	return b.blobs.find(device, prop, item)
}

// BlobEntryByID resolves the opaque identifier used by HTTP BLOB endpoints.
func (b *Bus) BlobEntryByID(id string) *BlobEntry {
	return b.blobs.findByID(id)
}

// ValidateBlob reports whether the named item is a known BLOB item, i.e.
// reading its entry yields a consistent snapshot.
func (b *Bus) ValidateBlob(device, prop string, it *property.Item) bool {
	if it == nil {
		return false
	}
	return b.blobs.find(device, prop, it.Name) != nil
}
