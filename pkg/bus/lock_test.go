package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openastro/skybus/pkg/property"
)

func TestReentrantMutexReentry(t *testing.T) {
	var m ReentrantMutex
	m.Lock()
	m.Lock() // re-entry by the same goroutine must not deadlock
	assert.True(t, m.Held())
	m.Unlock()
	assert.True(t, m.Held(), "still held after releasing one level")
	m.Unlock()
	assert.False(t, m.Held())
}

func TestReentrantMutexExcludesOtherGoroutines(t *testing.T) {
	var m ReentrantMutex
	m.Lock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
		m.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second goroutine acquired a held lock")
	default:
	}

	m.Unlock()
	<-acquired
}

func TestReentrantMutexCounter(t *testing.T) {
	var m ReentrantMutex
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Lock()
				m.Lock()
				counter++
				m.Unlock()
				m.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}

func TestUnlockByNonOwnerPanics(t *testing.T) {
	var m ReentrantMutex
	m.Lock()
	done := make(chan struct{})
	go func() {
		defer func() {
			assert.NotNil(t, recover())
			close(done)
		}()
		m.Unlock()
	}()
	<-done
	m.Unlock()
}

// A driver that emits an update from inside its own change callback: under
// strict locking this deadlocks unless the device lock is reentrant.
func TestStrictLockingTolerantOfDriverReentry(t *testing.T) {
	b := New(Options{StrictLocking: true})
	defer b.Close()

	p := numberProp("D1", "POS", 0, 10, 5)
	drv := &testDriver{props: []*property.Property{p}}
	d := NewDevice("D1", 0, drv)
	drv.onChange = func(dev *Device, c *Client, req *property.Property) Result {
		p.CopyValues(req, false)
		p.State = property.StateOK
		return dev.UpdateProperty(p, "")
	}
	require.Equal(t, OK, b.AttachDevice(d))

	rec := &recorder{}
	c := NewClient("C1", rec)
	require.Equal(t, OK, b.AttachClient(c))

	require.Equal(t, OK, c.ChangeProperty(numberProp("D1", "POS", 0, 10, 7)))
	updates := rec.named("update", "POS")
	require.Len(t, updates, 1)
	assert.Equal(t, 7.0, updates[0].prop.Item(0).Number.Value)
}
