package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	writeConfig(t, path, "sync:\n  debounce_window_ms: 2000\n")

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, func(c Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, path, "sync:\n  debounce_window_ms: 750\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 750, cfg.Sync.DebounceWindowMs)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcher_InvalidConfigKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	writeConfig(t, path, "sync:\n  debounce_window_ms: 2000\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(Config) { reloads.Add(1) })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	// A config that fails validation must not reach the callback.
	writeConfig(t, path, "sync:\n  debounce_window_ms: -5\n")

	assert.False(t, waitFor(t, 500*time.Millisecond, func() bool { return reloads.Load() > 0 }),
		"invalid config must be dropped")
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	writeConfig(t, path, "sync:\n  debounce_window_ms: 2000\n")

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(Config) { reloads.Add(1) })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, filepath.Join(dir, "other.yaml"), "unrelated: true\n")

	assert.False(t, waitFor(t, 300*time.Millisecond, func() bool { return reloads.Load() > 0 }))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync.yaml")
	writeConfig(t, path, "sync:\n  debounce_window_ms: 2000\n")

	w, err := NewWatcher(path, func(Config) {})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}
