package bus

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ReentrantMutex is the per-device lock. Driver callbacks run under it, and
// drivers routinely re-enter the bus (UpdateProperty from inside
// ChangeProperty, helper APIs from timer callbacks), so the lock tolerates
// re-entry by the owning goroutine.
type ReentrantMutex struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

// Lock acquires the mutex, recursively when the caller already owns it.
func (m *ReentrantMutex) Lock() {
	id := goroutineID()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

// Unlock releases one level of ownership.
func (m *ReentrantMutex) Unlock() {
	if m.owner.Load() != goroutineID() {
		panic("bus: unlock of device lock not held by caller")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

// Held reports whether the calling goroutine owns the mutex.
func (m *ReentrantMutex) Held() bool {
	return m.owner.Load() == goroutineID()
}

// goroutineID extracts the current goroutine id from the stack header
// ("goroutine 123 [running]:"). The runtime offers no public accessor; this
// is the standard workaround for a recursive lock.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
