package activity

import (
	"sync"
	"time"

	"canvassync/internal/sched"
)

// Debouncer coalesces rapid triggers into a single callback fired after a
// quiet window. Each trigger resets the window; last write wins on the timer.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	sch    sched.Scheduler
	cancel func()
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration, sch sched.Scheduler) *Debouncer {
	return &Debouncer{window: window, sch: sch}
}

// Trigger schedules fn after the window, cancelling any pending run.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = d.sch.After(d.window, fn)
}

// Cancel drops any pending run.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// SetWindow changes the quiet window for subsequent triggers (hot reload).
func (d *Debouncer) SetWindow(window time.Duration) {
	d.mu.Lock()
	d.window = window
	d.mu.Unlock()
}
