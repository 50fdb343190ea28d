// Package sched abstracts timer scheduling so debounce windows, idle polls,
// and animation delays can be driven by virtual time in tests.
package sched

import (
	"sync"
	"time"
)

// Scheduler schedules callbacks. Cancel functions are idempotent and safe to
// call after the callback has fired.
type Scheduler interface {
	// After runs fn once after d. The returned func cancels the pending run.
	After(d time.Duration, fn func()) (cancel func())

	// Every runs fn repeatedly with period d until the returned func is called.
	Every(d time.Duration, fn func()) (stop func())

	// Now returns the scheduler's current time.
	Now() time.Time
}

// Real is the production Scheduler backed by the runtime timers.
type Real struct{}

// NewReal returns the production scheduler.
func NewReal() *Real { return &Real{} }

func (*Real) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (*Real) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (*Real) Now() time.Time { return time.Now() }
