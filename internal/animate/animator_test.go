package animate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvassync/internal/canvas"
	"canvassync/internal/sched"
)

const base = 35 * time.Millisecond

func newAnimator(t *testing.T) (*Animator, *canvas.MemoryHost, *sched.Fake) {
	t.Helper()
	host := canvas.NewMemoryHost()
	fake := sched.NewFake()
	host.SetClock(fake.Now)
	return New(host, fake, base, 0), host, fake
}

func TestAnimator_PlaceholderTaggedBeforeFirstRune(t *testing.T) {
	a, host, _ := newAnimator(t)

	job, err := a.Start("hi", canvas.Position{X: 5, Y: 7}, nil, nil)
	require.NoError(t, err)

	// Before any time passes: item exists, empty, already tagged ai.
	it, ok := host.Item(job.ItemID)
	require.True(t, ok)
	assert.Equal(t, canvas.ProvenanceAI, it.Provenance)
	assert.Equal(t, "", it.Text)
	assert.Equal(t, 5.0, it.Position.X)
	assert.True(t, a.IsAnimating())
}

func TestAnimator_RevealsRuneByRuneWithProgress(t *testing.T) {
	a, host, fake := newAnimator(t)

	var progress []Progress
	var completed string
	job, err := a.Start("go!", canvas.Position{},
		func(p Progress) { progress = append(progress, p) },
		func(id string) { completed = id })
	require.NoError(t, err)

	fake.Advance(base) // 'g'
	it, _ := host.Item(job.ItemID)
	assert.Equal(t, "g", it.Text)

	fake.Advance(base) // 'o'
	fake.Advance(base) // '!'

	it, _ = host.Item(job.ItemID)
	assert.Equal(t, "go!", it.Text)
	assert.False(t, a.IsAnimating())
	assert.Equal(t, job.ItemID, completed)

	require.Len(t, progress, 3)
	assert.Equal(t, "g", progress[0].Partial)
	assert.InDelta(t, 1.0/3.0, progress[0].Fraction, 1e-9)
	assert.Equal(t, "go!", progress[2].Partial)
	assert.InDelta(t, 1.0, progress[2].Fraction, 1e-9)

	select {
	case err := <-job.Done():
		assert.NoError(t, err)
	default:
		t.Fatal("done channel empty after completion")
	}
}

func TestAnimator_PunctuationPauses(t *testing.T) {
	a, host, fake := newAnimator(t)

	job, err := a.Start("a. b", canvas.Position{}, nil, nil)
	require.NoError(t, err)

	fake.Advance(base) // 'a'
	fake.Advance(base) // next delay is 8x base after '.': 'b' not due yet... first the '.' itself
	it, _ := host.Item(job.ItemID)
	assert.Equal(t, "a.", it.Text)

	// After '.', the pause is 8x base; a single base step must not advance.
	fake.Advance(base)
	it, _ = host.Item(job.ItemID)
	assert.Equal(t, "a.", it.Text)

	fake.Advance(7 * base) // completes the long pause: space revealed
	it, _ = host.Item(job.ItemID)
	assert.Equal(t, "a. ", it.Text)

	// After whitespace the pause is half base.
	fake.Advance(base / 2)
	it, _ = host.Item(job.ItemID)
	assert.Equal(t, "a. b", it.Text)
	assert.False(t, a.IsAnimating())
}

func TestAnimator_SingleJobOnly(t *testing.T) {
	a, _, fake := newAnimator(t)

	_, err := a.Start("first", canvas.Position{}, nil, nil)
	require.NoError(t, err)

	_, err = a.Start("second", canvas.Position{}, nil, nil)
	assert.ErrorIs(t, err, ErrAnimationActive)

	// Once the first completes, a new job may start.
	fake.Advance(time.Minute)
	assert.False(t, a.IsAnimating())
	_, err = a.Start("second", canvas.Position{}, nil, nil)
	assert.NoError(t, err)
}

func TestAnimator_WriteFailureAbortsWithoutRollback(t *testing.T) {
	a, host, fake := newAnimator(t)

	var completed bool
	job, err := a.Start("abc", canvas.Position{}, nil, func(string) { completed = true })
	require.NoError(t, err)

	fake.Advance(base) // 'a' lands
	boom := errors.New("host rejected update")
	host.FailWrites(job.ItemID, boom)

	fake.Advance(time.Minute)

	select {
	case err := <-job.Done():
		assert.ErrorIs(t, err, boom)
	default:
		t.Fatal("aborted job must deliver its error")
	}
	assert.False(t, completed, "no completion callback on abort")
	assert.False(t, a.IsAnimating())

	// Partial text stays as-is.
	it, _ := host.Item(job.ItemID)
	assert.Equal(t, "a", it.Text)
	assert.Equal(t, 0, fake.Pending(), "no timers survive an abort")
}

func TestAnimator_EmptyTextCompletesImmediately(t *testing.T) {
	a, _, _ := newAnimator(t)

	var completed bool
	job, err := a.Start("", canvas.Position{}, nil, func(string) { completed = true })
	require.NoError(t, err)

	assert.True(t, completed)
	assert.False(t, a.IsAnimating())
	select {
	case err := <-job.Done():
		assert.NoError(t, err)
	default:
		t.Fatal("done channel empty")
	}
}

func TestAnimator_StopClearsPendingTimer(t *testing.T) {
	a, host, fake := newAnimator(t)

	job, err := a.Start("abc", canvas.Position{}, nil, nil)
	require.NoError(t, err)
	fake.Advance(base) // 'a'

	a.Stop()
	assert.False(t, a.IsAnimating())
	assert.Equal(t, 0, fake.Pending())

	fake.Advance(time.Minute)
	it, _ := host.Item(job.ItemID)
	assert.Equal(t, "a", it.Text, "partial text left in place")

	a.Stop() // no-op when idle
}
