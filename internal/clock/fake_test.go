package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresOnce(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(2*time.Second, func() { fired++ })

	c.Advance(time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)

	c.Advance(10 * time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_EveryRepeats(t *testing.T) {
	c := NewFake(epoch)
	var ticks []time.Time
	timer := c.Every(30*time.Second, func() { ticks = append(ticks, c.Now()) })

	c.Advance(95 * time.Second)
	assert.Equal(t, []time.Time{
		epoch.Add(30 * time.Second),
		epoch.Add(60 * time.Second),
		epoch.Add(90 * time.Second),
	}, ticks)

	timer.Stop()
	c.Advance(time.Minute)
	assert.Len(t, ticks, 3)
}

func TestFake_CallbackCanReschedule(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	var rearm func()
	rearm = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(time.Second, rearm)
		}
	}
	c.AfterFunc(time.Second, rearm)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, fired)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
}

func TestFake_OrderByDeadlineThenRegistration(t *testing.T) {
	c := NewFake(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestWall_EveryStops(t *testing.T) {
	var n atomic.Int32
	timer := Wall{}.Every(time.Millisecond, func() { n.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Greater(t, n.Load(), int32(0))
}
