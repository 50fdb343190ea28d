// Package activity watches the canvas for human edits and turns them into at
// most two outbound signals: a settled text update and an idle nudge. It never
// forwards the agent's own output; provenance filtering and an explicit
// animation guard both stand in the way of that feedback loop.
package activity

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"canvassync/internal/canvas"
	"canvassync/internal/classify"
	"canvassync/internal/config"
	"canvassync/internal/logging"
	"canvassync/internal/sched"
)

// Extracted is a snapshot of the single most recent human-authored item.
// Recomputed on every debounce firing, never persisted.
type Extracted struct {
	Text         string
	Position     canvas.Position
	SourceItemID string
}

// Callbacks are the tracker's only outputs.
type Callbacks struct {
	OnTextUpdate func(text string, pos canvas.Position, itemID string)
	OnIdle       func(elapsed time.Duration)
}

// Options tunes the tracker. IsAnimating is read on every change tick; the
// animator owns that flag, the tracker only reads it.
type Options struct {
	Enabled          bool
	DebounceWindow   time.Duration
	IdleThreshold    time.Duration
	IdlePollInterval time.Duration
	SuppressPolicy   config.SuppressPolicy
	IsAnimating      func() bool
}

// Tracker subscribes to the canvas change feed for the lifetime of the
// tutoring view. Create with New, wire callbacks, then Start; Stop releases
// every timer and the feed subscription.
type Tracker struct {
	host canvas.Host
	cls  *classify.Classifier
	sch  sched.Scheduler
	opts Options
	cb   Callbacks
	deb  *Debouncer

	mu           sync.Mutex
	started      bool
	lastEmitted  string
	lastActivity time.Time
	idleLatched  bool
	deferred     bool
	unsub        func()
	stopPoll     func()
}

// New creates a tracker. Callbacks must be set before Start.
func New(host canvas.Host, cls *classify.Classifier, sch sched.Scheduler, opts Options, cb Callbacks) *Tracker {
	return &Tracker{
		host: host,
		cls:  cls,
		sch:  sch,
		opts: opts,
		cb:   cb,
		deb:  NewDebouncer(opts.DebounceWindow, sch),
	}
}

// Start subscribes to the change feed and begins the idle poll.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.lastActivity = t.sch.Now()
	t.mu.Unlock()

	t.unsub = t.host.OnChange(t.handleChange)
	t.stopPoll = t.sch.Every(t.opts.IdlePollInterval, t.pollIdle)
	logging.Get(logging.CategoryActivity).Info("tracker started",
		zap.Duration("debounce", t.opts.DebounceWindow),
		zap.Duration("idle_threshold", t.opts.IdleThreshold))
}

// Stop unsubscribes and clears every pending timer. Safe to call twice.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	t.mu.Unlock()

	t.unsub()
	t.stopPoll()
	t.deb.Cancel()
	logging.Get(logging.CategoryActivity).Info("tracker stopped")
}

// Resync re-runs extraction and stores the result as the emission baseline
// without emitting. The session layer calls this after each agent response so
// the next debounce firing is diffed against current canvas state, not stale
// state.
//
// Under the defer policy a human edit swallowed during the animation is
// re-armed here instead of being folded into the baseline.
func (t *Tracker) Resync() {
	t.mu.Lock()
	if t.opts.SuppressPolicy == config.SuppressDefer && t.deferred {
		t.deferred = false
		t.mu.Unlock()
		t.deb.Trigger(t.fire)
		return
	}
	t.mu.Unlock()

	snap := t.extract()
	t.mu.Lock()
	if snap != nil {
		t.lastEmitted = snap.Text
	}
	t.mu.Unlock()
	logging.Get(logging.CategoryActivity).Debug("baseline resynced")
}

// SetDebounceWindow applies a hot-reloaded debounce window.
func (t *Tracker) SetDebounceWindow(d time.Duration) {
	t.deb.SetWindow(d)
}

func (t *Tracker) animating() bool {
	return t.opts.IsAnimating != nil && t.opts.IsAnimating()
}

// handleChange is the change-feed tick. While the agent is animating no timer
// is started at all; depending on policy the tick is dropped or remembered
// for one re-extraction after the animation.
func (t *Tracker) handleChange() {
	if !t.opts.Enabled {
		return
	}

	anim := t.animating()

	t.mu.Lock()
	t.lastActivity = t.sch.Now()
	t.idleLatched = false
	if anim {
		// The edit is swallowed, but it still counts as activity for the
		// idle latch: a nudge must not land right after someone typed.
		if t.opts.SuppressPolicy == config.SuppressDefer {
			t.deferred = true
		}
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.deb.Trigger(t.fire)
}

// fire runs when a burst of edits has settled. Emits only when the extracted
// text differs from the last emission.
func (t *Tracker) fire() {
	// A timer armed before the animation began can still come due while the
	// agent is typing. Never emit then; under defer the extraction is
	// re-armed by the post-animation Resync instead.
	if t.animating() {
		if t.opts.SuppressPolicy == config.SuppressDefer {
			t.mu.Lock()
			t.deferred = true
			t.mu.Unlock()
		}
		return
	}

	snap := t.extract()
	if snap == nil {
		return
	}

	t.mu.Lock()
	if snap.Text == t.lastEmitted {
		t.mu.Unlock()
		return
	}
	t.lastEmitted = snap.Text
	onText := t.cb.OnTextUpdate
	t.mu.Unlock()

	logging.Get(logging.CategoryActivity).Debug("text update",
		zap.String("item", snap.SourceItemID), zap.Int("len", len(snap.Text)))
	if onText != nil {
		onText(snap.Text, snap.Position, snap.SourceItemID)
	}
}

// extract selects the single newest eligible item and returns its text.
// Multiple stale human items must never be concatenated: only the most recent
// one represents what the user is currently asking. Any fault is logged and
// treated as "no eligible text".
func (t *Tracker) extract() (snap *Extracted) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryActivity).Warn("extraction fault",
				zap.Any("panic", r))
			snap = nil
		}
	}()

	items := t.host.Items()
	t.cls.Observe(items)

	eligible := items[:0:0]
	for _, it := range items {
		if t.cls.Eligible(it) {
			eligible = append(eligible, it)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Newest first; items without any timestamp sort last.
	sort.SliceStable(eligible, func(i, j int) bool {
		ti, tj := t.cls.EffectiveCreatedAt(eligible[i]), t.cls.EffectiveCreatedAt(eligible[j])
		if ti.IsZero() {
			return false
		}
		if tj.IsZero() {
			return true
		}
		return ti.After(tj)
	})

	newest := eligible[0]
	text := newest.PlainText()
	if text == "" {
		return nil
	}
	return &Extracted{
		Text:         text,
		Position:     newest.Position,
		SourceItemID: newest.ID,
	}
}

// pollIdle runs on a fixed interval and fires OnIdle exactly once per idle
// episode; the latch resets on the next qualifying activity. The agent typing
// is not the user being idle, so the poll skips while an animation runs.
func (t *Tracker) pollIdle() {
	if !t.opts.Enabled || t.animating() {
		return
	}

	t.mu.Lock()
	if t.idleLatched {
		t.mu.Unlock()
		return
	}
	elapsed := t.sch.Now().Sub(t.lastActivity)
	if elapsed < t.opts.IdleThreshold {
		t.mu.Unlock()
		return
	}
	t.idleLatched = true
	onIdle := t.cb.OnIdle
	t.mu.Unlock()

	logging.Get(logging.CategoryActivity).Debug("idle episode", zap.Duration("elapsed", elapsed))
	if onIdle != nil {
		onIdle(elapsed)
	}
}
