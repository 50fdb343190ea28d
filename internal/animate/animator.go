// Package animate renders agent responses onto the canvas one rune at a time
// with human-like pacing. At most one job runs per canvas; the job's item is
// tagged ai the moment it is created so the classifier excludes it before the
// first rune appears.
package animate

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"canvassync/internal/canvas"
	"canvassync/internal/logging"
	"canvassync/internal/sched"
)

// ErrAnimationActive is returned when Start is called while a job is running.
// Two concurrent jobs would interleave writes to the same canvas, so this is
// a caller error rather than a queue.
var ErrAnimationActive = errors.New("animate: animation already in progress")

// Progress reports one revealed unit.
type Progress struct {
	Partial  string
	Fraction float64
}

// Job is one running animation. Done yields nil on completion or the write
// error that aborted the job; partial text is left on the canvas either way.
type Job struct {
	ItemID string

	full   []rune
	idx    int
	done   chan error
	cancel func()

	onProgress func(Progress)
	onComplete func(itemID string)
}

// Done returns the job's completion channel.
func (j *Job) Done() <-chan error { return j.done }

// Animator owns the "agent is typing" flag and the single job slot.
type Animator struct {
	host      canvas.Host
	sch       sched.Scheduler
	baseDelay time.Duration
	jitter    time.Duration
	rng       *rand.Rand

	mu     sync.Mutex
	active *Job
}

// New creates an animator with the configured cadence.
func New(host canvas.Host, sch sched.Scheduler, baseDelay, jitter time.Duration) *Animator {
	return &Animator{
		host:      host,
		sch:       sch,
		baseDelay: baseDelay,
		jitter:    jitter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// IsAnimating reports whether a job is running. The activity tracker reads
// this on every change tick; nothing else may write it.
func (a *Animator) IsAnimating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// Start creates the placeholder item and begins revealing text at pos.
// onProgress fires after every revealed rune, onComplete once with the item
// id; either may be nil.
func (a *Animator) Start(text string, pos canvas.Position, onProgress func(Progress), onComplete func(itemID string)) (*Job, error) {
	job := &Job{
		full:       []rune(text),
		done:       make(chan error, 1),
		onProgress: onProgress,
		onComplete: onComplete,
	}

	// Reserve the job slot before touching the host: the create below fires
	// the change feed synchronously, and the tracker must already see
	// IsAnimating as true on that very tick.
	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		return nil, ErrAnimationActive
	}
	a.active = job
	a.mu.Unlock()

	// Placeholder goes in tagged ai before any characters exist, so there is
	// no window where the growing text looks human.
	itemID, err := a.host.CreateItem(canvas.Spec{
		Kind:       canvas.KindText,
		Position:   pos,
		Provenance: canvas.ProvenanceAI,
	})
	if err != nil {
		a.mu.Lock()
		a.active = nil
		a.mu.Unlock()
		return nil, fmt.Errorf("animate: create placeholder: %w", err)
	}

	a.mu.Lock()
	job.ItemID = itemID
	a.mu.Unlock()

	logging.Get(logging.CategoryAnimate).Info("animation started",
		zap.String("item", itemID), zap.Int("runes", len(job.full)))

	if len(job.full) == 0 {
		a.finish(job, nil)
		return job, nil
	}

	a.schedule(job, a.baseDelay)
	return job, nil
}

// Stop aborts the active job, clearing its pending timer. Partially typed
// content stays on the canvas. No-op when idle.
func (a *Animator) Stop() {
	a.mu.Lock()
	job := a.active
	a.mu.Unlock()
	if job == nil {
		return
	}
	a.finish(job, errors.New("animate: stopped"))
}

func (a *Animator) schedule(job *Job, delay time.Duration) {
	a.mu.Lock()
	if a.active != job {
		a.mu.Unlock()
		return
	}
	job.cancel = a.sch.After(delay, func() { a.step(job) })
	a.mu.Unlock()
}

// step reveals the next rune and schedules the one after it.
func (a *Animator) step(job *Job) {
	a.mu.Lock()
	if a.active != job {
		a.mu.Unlock()
		return
	}
	job.idx++
	partial := string(job.full[:job.idx])
	a.mu.Unlock()

	if err := a.host.UpdateItem(job.ItemID, canvas.Patch{Text: &partial}); err != nil {
		// No retry and no rollback: partial agent output beats canvas
		// corruption.
		logging.Get(logging.CategoryAnimate).Error("canvas write failed mid-animation",
			zap.String("item", job.ItemID), zap.Error(err))
		a.finish(job, err)
		return
	}

	if job.onProgress != nil {
		job.onProgress(Progress{
			Partial:  partial,
			Fraction: float64(job.idx) / float64(len(job.full)),
		})
	}

	if job.idx == len(job.full) {
		a.finish(job, nil)
		return
	}

	a.schedule(job, a.delayAfter(job.full[job.idx-1]))
}

// finish clears the job slot and delivers the outcome exactly once.
func (a *Animator) finish(job *Job, err error) {
	a.mu.Lock()
	if a.active != job {
		a.mu.Unlock()
		return
	}
	a.active = nil
	if job.cancel != nil {
		job.cancel()
	}
	a.mu.Unlock()

	if err == nil {
		logging.Get(logging.CategoryAnimate).Info("animation complete", zap.String("item", job.ItemID))
		if job.onComplete != nil {
			job.onComplete(job.ItemID)
		}
	}
	job.done <- err
}

// delayAfter picks the pause following a revealed rune: brief after
// whitespace, long after sentence-terminal punctuation, medium after clause
// breaks, and base plus jitter otherwise so the cadence never turns
// mechanical.
func (a *Animator) delayAfter(r rune) time.Duration {
	switch {
	case r == '.' || r == '!' || r == '?':
		return 8 * a.baseDelay
	case r == ',' || r == ';' || r == ':' || r == '\n':
		return 4 * a.baseDelay
	case unicode.IsSpace(r):
		return a.baseDelay / 2
	}

	if a.jitter <= 0 {
		return a.baseDelay
	}
	a.mu.Lock()
	j := time.Duration(a.rng.Int63n(int64(2*a.jitter+1))) - a.jitter
	a.mu.Unlock()
	d := a.baseDelay + j
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
