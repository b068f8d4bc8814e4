// Package bus implements the in-process message bus that routes property
// traffic between attached devices and clients: registration, fan-out
// dispatch of define/update/delete events, change and enable-BLOB requests,
// per-device serialisation, access tokens and the BLOB delivery subsystem.
package bus

import "fmt"

// Result is the single status code returned by bus APIs and driver
// callbacks. Rich detail never rides the code; it flows as free-form text on
// updates and messages.
type Result int

const (
	OK Result = iota
	Failed
	TooMany
	LockError
	NotFound
	CantStartServer
	Duplicated
	Busy
	GuideError
	UnsupportedArch
	UnresolvedDeps
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Failed:
		return "failed"
	case TooMany:
		return "too many elements"
	case LockError:
		return "lock error"
	case NotFound:
		return "not found"
	case CantStartServer:
		return "can't start server"
	case Duplicated:
		return "duplicated"
	case Busy:
		return "busy"
	case GuideError:
		return "guide error"
	case UnsupportedArch:
		return "unsupported architecture"
	case UnresolvedDeps:
		return "unresolved dependencies"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Err returns nil for OK and a plain error otherwise, for call sites that
// prefer Go error plumbing over the code.
func (r Result) Err() error {
	if r == OK {
		return nil
	}
	return fmt.Errorf("bus: %s", r)
}
