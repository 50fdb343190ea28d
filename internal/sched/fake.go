package sched

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Scheduler for tests. Time only moves when Advance
// is called; due callbacks run inline on the advancing goroutine, in firing
// order, so tests never sleep.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id     int
	at     time.Time
	period time.Duration // 0 for one-shot
	fn     func()
}

// NewFake creates a fake scheduler starting at a fixed reference time.
func NewFake() *Fake {
	return &Fake{
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		timers: make(map[int]*fakeTimer),
	}
}

func (f *Fake) After(d time.Duration, fn func()) func() {
	return f.add(d, 0, fn)
}

func (f *Fake) Every(d time.Duration, fn func()) func() {
	return f.add(d, d, fn)
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves virtual time forward by d, firing every timer that comes due,
// in order. Callbacks may schedule further timers; those fire too if they fall
// within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	deadline := f.now.Add(d)
	for {
		next := f.nextDueLocked(deadline)
		if next == nil {
			break
		}
		if next.at.After(f.now) {
			f.now = next.at
		}
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			delete(f.timers, next.id)
		}
		fn := next.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	f.now = deadline
	f.mu.Unlock()
}

// Pending returns the number of scheduled timers. Repeating timers count once.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) add(d, period time.Duration, fn func()) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.timers[id] = &fakeTimer{id: id, at: f.now.Add(d), period: period, fn: fn}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.timers, id)
			f.mu.Unlock()
		})
	}
}

// nextDueLocked returns the earliest timer due at or before deadline.
// Ties break by registration order to keep runs reproducible.
func (f *Fake) nextDueLocked(deadline time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.at.After(deadline) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}
