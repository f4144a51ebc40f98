package ingest

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockWatcher creates a Watcher without an fsnotify backend
// for exercising the debounce logic directly.
func newMockWatcher(
	debounce time.Duration, onChange func([]string),
) *Watcher {
	return &Watcher{
		debounce: debounce,
		pending:  make(map[string]time.Time),
		onChange: onChange,
	}
}

func TestWatcherFlush_WaitsForDebounce(t *testing.T) {
	var got []string
	w := newMockWatcher(time.Second, func(paths []string) {
		got = append(got, paths...)
	})
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	now := base
	w.now = func() time.Time { return now }

	w.handleEvent(fsnotify.Event{Name: "/inbox/a.jsonl", Op: fsnotify.Create})
	now = base.Add(500 * time.Millisecond)
	w.handleEvent(fsnotify.Event{Name: "/inbox/b.jsonl", Op: fsnotify.Write})

	now = base.Add(time.Second)
	w.flush()
	assert.Equal(t, []string{"/inbox/a.jsonl"}, got)

	now = base.Add(2 * time.Second)
	w.flush()
	assert.Equal(t, []string{"/inbox/a.jsonl", "/inbox/b.jsonl"}, got)
	assert.Empty(t, w.pending)
}

func TestWatcherHandleEvent_IgnoresRemoveAndChmod(t *testing.T) {
	w := newMockWatcher(time.Second, func([]string) {})
	w.now = time.Now

	w.handleEvent(fsnotify.Event{Name: "x.jsonl", Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: "x.jsonl", Op: fsnotify.Chmod})
	w.handleEvent(fsnotify.Event{Name: "x.jsonl", Op: fsnotify.Rename})
	assert.Empty(t, w.pending)
}

func TestWatcherHandleEvent_ForgetsFilesMovedAway(t *testing.T) {
	w := newMockWatcher(time.Second, func([]string) {})
	w.now = time.Now

	w.handleEvent(fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: "b.jsonl", Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: "a.jsonl", Op: fsnotify.Rename})
	assert.Equal(t, []string{"b.jsonl"}, keys(w.pending))

	w.handleEvent(fsnotify.Event{Name: "b.jsonl", Op: fsnotify.Remove})
	assert.Empty(t, w.pending)
}

func TestWatcherFlush_ReportsInNameOrder(t *testing.T) {
	var got []string
	w := newMockWatcher(time.Second, func(paths []string) {
		got = paths
	})
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	for _, name := range []string{"c.jsonl", "a.jsonl", "b.jsonl"} {
		w.handleEvent(fsnotify.Event{Name: name, Op: fsnotify.Create})
	}

	w.now = func() time.Time { return base.Add(time.Second) }
	w.flush()
	assert.Equal(t, []string{"a.jsonl", "b.jsonl", "c.jsonl"}, got)
}

func keys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNewWatcher_Rejects(t *testing.T) {
	_, err := NewWatcher(time.Second, nil)
	assert.ErrorIs(t, err, os.ErrInvalid)

	_, err = NewWatcher(0, func([]string) {})
	assert.ErrorIs(t, err, os.ErrInvalid)
}

func TestWatcher_ReportsNewFile(t *testing.T) {
	dir := t.TempDir()
	var (
		mu  sync.Mutex
		got []string
	)
	w, err := NewWatcher(20*time.Millisecond, func(paths []string) {
		mu.Lock()
		got = append(got, paths...)
		mu.Unlock()
	})
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	require.NoError(t, w.Watch(dir))

	path := filepath.Join(dir, "new.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lineFocus+"\n"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, got, path)
	mu.Unlock()
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(20*time.Millisecond, func([]string) {})
	require.NoError(t, err)
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWatcher_WatchMissingDir(t *testing.T) {
	w, err := NewWatcher(20*time.Millisecond, func([]string) {})
	require.NoError(t, err)
	w.Start()
	defer w.Stop()
	assert.Error(t, w.Watch(filepath.Join(t.TempDir(), "missing")))
}
