package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
//
// Timers fire synchronously on the goroutine calling Advance, in deadline
// order (ties broken by registration order). A callback may register or stop
// timers; those changes are honored within the same Advance call.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock  *Fake
	when   time.Time
	period time.Duration
	seq    int64
	f      func()
	active bool
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once when the clock reaches now+d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	return c.schedule(d, 0, f)
}

// Every schedules f to run each time the clock crosses a multiple of d.
func (c *Fake) Every(d time.Duration, f func()) Timer {
	return c.schedule(d, d, f)
}

func (c *Fake) schedule(d, period time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now.Add(d), period: period, seq: c.seq, f: f, active: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			next.active = false
			c.removeLocked(next)
		}
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// Pending returns the number of active timers.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Fake) nextDueLocked(target time.Time) *fakeTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].when.Equal(c.timers[j].when) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].when.Before(c.timers[j].when)
	})
	if c.timers[0].when.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *Fake) removeLocked(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.clock.removeLocked(t)
	return true
}
