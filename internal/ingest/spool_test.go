package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/testjsonl"
)

// fakeStore records appended events and can fail on the n-th call.
type fakeStore struct {
	mu     sync.Mutex
	events []Event
	failAt int // 1-based; 0 never fails
	calls  int
	err    error
}

func (f *fakeStore) Append(
	_ context.Context, kind db.Kind, durationMs int64, cycle bool,
) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return 0, f.err
	}
	f.events = append(f.events, Event{kind, durationMs, cycle})
	return int64(len(f.events)), nil
}

func (f *fakeStore) recorded() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func writeSpool(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := testjsonl.JoinJSONL(lines...)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

var (
	lineFocus = testjsonl.PhaseJSON("FOCUS", 1500000, false)
	lineShort = testjsonl.PhaseJSON("SHORT_BREAK", 300000, false)
	lineLong  = testjsonl.PhaseJSON("LONG_BREAK", 900000, true)
	lineIdle  = testjsonl.StatusJSON("IDLE", 0)
)

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "batch.jsonl",
		lineFocus,
		lineIdle,
		"",
		`{"phase":"FOCUS",`,
		lineShort,
		`{"phase":"FOCUS","duration_ms":0}`,
		lineLong,
	)
	store := &fakeStore{}

	res, err := NewSpool(store, dir).IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, Result{Files: 1, Recorded: 3, Skipped: 1, Invalid: 2}, res)
	want := []Event{
		{db.KindFocus, 1500000, false},
		{db.KindBreak, 300000, false},
		{db.KindBreak, 900000, true},
	}
	if diff := cmp.Diff(want, store.recorded()); diff != "" {
		t.Errorf("recorded events mismatch (-want +got):\n%s", diff)
	}

	assert.NoFileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "batch.done"))
}

func TestIngestFile_StorageFailureKeepsRemainder(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "batch.jsonl",
		lineFocus, lineShort, lineLong,
	)
	errDisk := errors.New("disk I/O error")
	store := &fakeStore{failAt: 2, err: errDisk}
	spool := NewSpool(store, dir)

	res, err := spool.IngestFile(context.Background(), path)
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, 1, res.Recorded)

	assert.Equal(t, []string{lineShort, lineLong}, readLines(t, path))
	assert.NoFileExists(t, filepath.Join(dir, "batch.done"))

	// The retry picks up where the failure left off.
	res, err = spool.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recorded)
	assert.Len(t, store.recorded(), 3)
	assert.NoFileExists(t, path)
}

func TestIngestFile_StoreValidationIsDropped(t *testing.T) {
	dir := t.TempDir()
	path := writeSpool(t, dir, "a.jsonl", lineFocus, lineShort)
	store := &fakeStore{
		failAt: 1,
		err:    &db.ValidationError{Field: "kind", Reason: "test"},
	}

	res, err := NewSpool(store, dir).IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 1, Recorded: 1, Invalid: 1}, res)
	assert.NoFileExists(t, path)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeSpool(t, dir, "b.jsonl", lineShort)
	writeSpool(t, dir, "a.jsonl", lineFocus)
	writeSpool(t, dir, "old.done", lineLong)
	writeSpool(t, dir, "notes.txt", lineLong)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.jsonl"), 0o755))

	store := &fakeStore{}
	res, err := NewSpool(store, dir).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)

	// Files are ingested in name order.
	want := []Event{
		{db.KindFocus, 1500000, false},
		{db.KindBreak, 300000, false},
	}
	if diff := cmp.Diff(want, store.recorded()); diff != "" {
		t.Errorf("recorded events mismatch (-want +got):\n%s", diff)
	}

	// A second pass finds nothing new.
	res, err = NewSpool(store, dir).Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Files)
}

func TestScan_IntoRealStore(t *testing.T) {
	dir := t.TempDir()
	writeSpool(t, dir, "day.jsonl", lineFocus, lineShort, lineFocus, lineLong)

	d, err := db.Open(filepath.Join(t.TempDir(), "spool.db"))
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	res, err := NewSpool(d, dir).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Recorded)

	focus, err := d.Count(ctx, db.KindFocus)
	require.NoError(t, err)
	assert.Equal(t, 2, focus)
	cycles, err := d.CountCompletedCycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
}

func TestRun_IngestsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeSpool(t, dir, "early.jsonl", lineFocus)
	store := &fakeStore{}

	stop, err := NewSpool(store, dir).Run(
		context.Background(), 20*time.Millisecond,
	)
	require.NoError(t, err)
	defer stop()

	require.Len(t, store.recorded(), 1, "existing file ingested on start")

	// Write elsewhere and rename in so the watcher sees a whole file.
	tmp := writeSpool(t, t.TempDir(), "late.jsonl", lineShort, lineLong)
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "late.jsonl")))

	require.Eventually(t, func() bool {
		return len(store.recorded()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "late.done"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_CreatesInbox(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "inbox")
	stop, err := NewSpool(&fakeStore{}, dir).Run(
		context.Background(), 20*time.Millisecond,
	)
	require.NoError(t, err)
	stop()
	assert.DirExists(t, dir)
}

func TestIngestFile_NoTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	content := testjsonl.NewSpoolBuilder().
		AddPhase("FOCUS", 1500000, false).
		AddStatus("FOCUS", 60000).
		AddRaw(`{"phase":`).
		AddPhase("BREAK", 300000, true).
		StringNoTrailingNewline()
	path := filepath.Join(dir, "tail.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := &fakeStore{}
	res, err := NewSpool(store, dir).IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 1, Recorded: 2, Skipped: 1, Invalid: 1}, res)
	assert.Equal(t, []Event{
		{db.KindFocus, 1500000, false},
		{db.KindBreak, 300000, true},
	}, store.recorded())
}
