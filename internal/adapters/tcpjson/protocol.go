// Package tcpjson implements the native line protocol: one JSON envelope
// per line over a plain TCP connection. The server side exposes a local bus
// to the network; the client side mirrors a remote server's devices onto a
// local bus as proxy devices.
package tcpjson

import (
	"github.com/openastro/skybus/pkg/property"
)

// MaxLineBytes caps one wire line. Frames ride updates base64-encoded, so
// the cap must cover full-frame camera images after the 4/3 inflation.
const MaxLineBytes = 256 << 20

// Envelope operations.
const (
	OpDefine     = "define"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpChange     = "change"
	OpGet        = "getProperties"
	OpEnableBLOB = "enableBLOB"
	OpMessage    = "message"
)

// Envelope is one protocol message. Exactly one operation per line; the
// property payload is present for everything except bare messages.
type Envelope struct {
	Op       string             `json:"op"`
	Device   string             `json:"device,omitempty"`
	Message  string             `json:"message,omitempty"`
	Mode     string             `json:"mode,omitempty"`
	Property *property.Property `json:"property,omitempty"`
}
