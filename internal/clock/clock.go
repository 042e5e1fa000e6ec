// Package clock abstracts wall time and timers so the autosave scheduler,
// reconciler and session sweep can run against a deterministic clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and callback timers.
//
// Callbacks registered with AfterFunc and Every run on a goroutine owned by
// the clock; callers must not assume they run on the registering goroutine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Timer cancels a pending callback. Stop reports whether the call stopped
// the timer (false if it already fired or was stopped).
type Timer interface {
	Stop() bool
}

// Wall is the production Clock backed by package time.
type Wall struct{}

// Now returns time.Now().
func (Wall) Now() time.Time { return time.Now() }

// AfterFunc calls f once after d.
func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every calls f every d until stopped. Ticks that arrive while f is still
// running are dropped by the underlying time.Ticker.
func (Wall) Every(d time.Duration, f func()) Timer {
	t := &wallTicker{ticker: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type wallTicker struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (t *wallTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
