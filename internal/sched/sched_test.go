package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_AfterFiresAndCancels(t *testing.T) {
	s := NewReal()

	var fired int32
	cancel := s.After(10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	cancel() // after firing, cancel is a no-op

	cancel2 := s.After(50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	cancel2()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestReal_EveryStops(t *testing.T) {
	s := NewReal()

	var ticks int32
	stop := s.Every(10*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })
	time.Sleep(55 * time.Millisecond)
	stop()
	stop() // idempotent

	after := atomic.LoadInt32(&ticks)
	assert.GreaterOrEqual(t, after, int32(2))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&ticks), "no ticks after stop")
}

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	f := NewFake()

	var order []string
	f.After(20*time.Millisecond, func() { order = append(order, "b") })
	f.After(10*time.Millisecond, func() { order = append(order, "a") })
	f.After(30*time.Millisecond, func() { order = append(order, "c") })

	f.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)

	f.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, f.Pending())
}

func TestFake_CancelPreventsFiring(t *testing.T) {
	f := NewFake()

	var fired bool
	cancel := f.After(10*time.Millisecond, func() { fired = true })
	cancel()
	f.Advance(time.Second)
	assert.False(t, fired)
}

func TestFake_EveryRepeatsWithinWindow(t *testing.T) {
	f := NewFake()

	var ticks int
	stop := f.Every(5*time.Millisecond, func() { ticks++ })

	f.Advance(17 * time.Millisecond)
	assert.Equal(t, 3, ticks)

	stop()
	f.Advance(time.Second)
	assert.Equal(t, 3, ticks)
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	f := NewFake()

	var chained bool
	f.After(10*time.Millisecond, func() {
		f.After(10*time.Millisecond, func() { chained = true })
	})

	f.Advance(20 * time.Millisecond)
	assert.True(t, chained, "chained timer inside the same Advance window fires")
}

func TestFake_NowTracksAdvance(t *testing.T) {
	f := NewFake()
	start := f.Now()
	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}
