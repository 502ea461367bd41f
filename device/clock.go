package device

import (
	"sync"
	"time"
)

// Clock is the time source for connect timeouts, sync intervals and the
// scanner's error beep gap.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	After(d time.Duration) <-chan time.Time
}

// Timer is the part of time.Timer the agent relies on.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock is the wall clock.
type RealClock struct{}

func NewRealClock() Clock { return RealClock{} }

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) NewTimer(d time.Duration) Timer         { return wallTimer{time.NewTimer(d)} }

type wallTimer struct{ t *time.Timer }

func (w wallTimer) C() <-chan time.Time        { return w.t.C }
func (w wallTimer) Stop() bool                 { return w.t.Stop() }
func (w wallTimer) Reset(d time.Duration) bool { return w.t.Reset(d) }

// FakeClock only moves when Advance is called. Armed timers fire once the
// clock reaches their deadline.
type FakeClock struct {
	mu    sync.Mutex
	armed *sync.Cond
	now   time.Time
	queue map[*fakeTimer]struct{}
}

func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{now: start, queue: make(map[*fakeTimer]struct{})}
	c.armed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTimer{clock: c, ch: make(chan time.Time, 1)}
	c.armLocked(ft, d)
	return ft
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *FakeClock) armLocked(ft *fakeTimer, d time.Duration) {
	ft.due = c.now.Add(d)
	c.queue[ft] = struct{}{}
	c.armed.Broadcast()
}

// Advance moves the clock by d and fires the timers that came due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for ft := range c.queue {
		if ft.due.After(c.now) {
			continue
		}
		delete(c.queue, ft)
		select {
		case ft.ch <- c.now:
		default:
		}
	}
}

// Pending reports how many timers are armed.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// BlockUntil returns once n timers are armed, so a test can advance past a
// deadline only after the code under test has set it.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) < n {
		c.armed.Wait()
	}
}

type fakeTimer struct {
	clock *FakeClock
	ch    chan time.Time
	due   time.Time
}

func (ft *fakeTimer) C() <-chan time.Time { return ft.ch }

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	_, armed := ft.clock.queue[ft]
	delete(ft.clock.queue, ft)
	return armed
}

func (ft *fakeTimer) Reset(d time.Duration) bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	_, armed := ft.clock.queue[ft]
	ft.clock.armLocked(ft, d)
	return armed
}
