// Package timer provides the shared one-shot timer service used by device
// drivers. A single priority-queue scheduler serves all devices; callbacks
// run on a small worker pool. Handles are cancellable and reschedulable;
// generation counters defeat stale wakeups from superseded schedules.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWorkers is the callback pool size when none is configured.
const DefaultWorkers = 4

// Handle identifies one scheduled callback. A handle fires exactly once
// unless rescheduled; rescheduling from within the callback is atomic.
type Handle struct {
	sched *Scheduler

	mu      sync.Mutex
	gen     uint64
	running bool
	runDone chan struct{}

	lock sync.Locker // acquired around the callback, usually the device lock
	fn   func()
}

type entry struct {
	h    *Handle
	gen  uint64
	when time.Time
}

type entryHeap []*entry

func (q entryHeap) Len() int            { return len(q) }
func (q entryHeap) Less(i, j int) bool  { return q[i].when.Before(q[j].when) }
func (q entryHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *entryHeap) Push(x any)         { *q = append(*q, x.(*entry)) }
func (q *entryHeap) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Scheduler owns the timer queue and the callback worker pool.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	queue entryHeap

	wake chan struct{}
	quit chan struct{}
	jobs chan *entry
	wg   sync.WaitGroup
}

// NewScheduler starts a scheduler with the given worker pool size.
func NewScheduler(workers int, logger *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		logger: logger.With(zap.String("component", "timer")),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		jobs:   make(chan *entry, workers*4),
	}
	s.wg.Add(1 + workers)
	go s.loop()
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Stop drains the scheduler. Pending timers never fire after Stop returns;
// in-flight callbacks are allowed to finish.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

// Schedule arms a one-shot callback after delay. When lock is non-nil it is
// acquired before the callback runs and released after, which is how driver
// callbacks stay serialised with the rest of the device's work.
func (s *Scheduler) Schedule(delay time.Duration, lock sync.Locker, fn func()) *Handle {
	h := &Handle{sched: s, gen: 1, lock: lock, fn: fn}
	s.push(&entry{h: h, gen: 1, when: time.Now().Add(delay)})
	return h
}

// Reschedule arms the handle for a new fire after delay, superseding any
// pending schedule. Calling it from within the callback is the canonical
// periodic-timer pattern and never misses or doubles a fire.
func (h *Handle) Reschedule(delay time.Duration) {
	h.mu.Lock()
	h.gen++
	gen := h.gen
	h.mu.Unlock()
	h.sched.push(&entry{h: h, gen: gen, when: time.Now().Add(delay)})
}

// Cancel prevents any future fire. It returns true when a pending schedule
// was defused before running; a callback already in flight is not
// interrupted (see CancelSync).
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	pending := h.sched.unqueue(h, h.gen)
	h.gen++
	return pending
}

// CancelSync cancels and additionally waits for an in-flight callback to
// complete. Must not be called from the callback itself.
func (h *Handle) CancelSync() {
	h.Cancel()
	h.mu.Lock()
	for h.running {
		done := h.runDone
		h.mu.Unlock()
		<-done
		h.mu.Lock()
	}
	h.mu.Unlock()
}

func (s *Scheduler) push(e *entry) {
	s.mu.Lock()
	heap.Push(&s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// unqueue drops the live entry for (h, gen) from the queue. Stale entries
// are also skipped lazily at fire time by the generation check.
func (s *Scheduler) unqueue(h *Handle, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queue {
		if e.h == h && e.gen == gen {
			heap.Remove(&s.queue, i)
			return true
		}
	}
	return false
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	idle := time.NewTimer(time.Hour)
	defer idle.Stop()
	for {
		s.mu.Lock()
		now := time.Now()
		var due []*entry
		for len(s.queue) > 0 && !s.queue[0].when.After(now) {
			due = append(due, heap.Pop(&s.queue).(*entry))
		}
		wait := time.Hour
		if len(s.queue) > 0 {
			wait = time.Until(s.queue[0].when)
		}
		s.mu.Unlock()

		for _, e := range due {
			select {
			case s.jobs <- e:
			case <-s.quit:
				return
			}
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)
		select {
		case <-s.wake:
		case <-idle.C:
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.jobs:
			s.fire(e)
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) fire(e *entry) {
	h := e.h
	h.mu.Lock()
	if h.gen != e.gen {
		// Superseded by Reschedule or defused by Cancel.
		h.mu.Unlock()
		return
	}
	h.gen++
	h.running = true
	h.runDone = make(chan struct{})
	h.mu.Unlock()

	if h.lock != nil {
		h.lock.Lock()
	}
	h.fn()
	if h.lock != nil {
		h.lock.Unlock()
	}

	h.mu.Lock()
	h.running = false
	close(h.runDone)
	h.mu.Unlock()
}
