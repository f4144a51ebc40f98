package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pomotimer/pomoledger/internal/db"
)

const (
	spoolExt = ".jsonl"
	doneExt  = ".done"

	maxLineSize = 1 << 20
)

// Appender is the store operation the spool writes through.
type Appender interface {
	Append(
		ctx context.Context, kind db.Kind, durationMs int64,
		cycleCompleted bool,
	) (int64, error)
}

// Spool ingests *.jsonl files dropped into an inbox directory.
// Each line is one device payload. A fully ingested file is
// renamed to *.done so it is never read twice.
type Spool struct {
	store Appender
	dir   string
}

// NewSpool returns a Spool reading from dir.
func NewSpool(store Appender, dir string) *Spool {
	return &Spool{store: store, dir: dir}
}

// Result counts what one ingest pass did.
type Result struct {
	Files    int
	Recorded int
	Skipped  int
	Invalid  int
}

func (r *Result) add(o Result) {
	r.Files += o.Files
	r.Recorded += o.Recorded
	r.Skipped += o.Skipped
	r.Invalid += o.Invalid
}

// Scan ingests every pending file in the inbox in name order.
func (s *Spool) Scan(ctx context.Context) (Result, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+spoolExt))
	if err != nil {
		return Result{}, fmt.Errorf("listing inbox: %w", err)
	}
	return s.IngestPaths(ctx, paths)
}

// IngestPaths ingests the given files, ignoring anything that is
// not a spool file or no longer exists. It stops at the first
// storage failure.
func (s *Spool) IngestPaths(
	ctx context.Context, paths []string,
) (Result, error) {
	paths = append([]string(nil), paths...)
	sort.Strings(paths)

	var total Result
	for _, path := range paths {
		if filepath.Ext(path) != spoolExt {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		res, err := s.IngestFile(ctx, path)
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// IngestFile appends every completed-phase line of path to the
// store and renames the file to *.done. Malformed and invalid
// lines are logged and dropped; status-only lines are skipped.
// When the store fails, the lines not yet recorded are written
// back to path so the next pass retries them.
func (s *Spool) IngestFile(
	ctx context.Context, path string,
) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}

	res := Result{Files: 1}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines [][]byte
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}

	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		ev, ok, err := DecodeDevice(line)
		if err != nil {
			log.Printf("inbox: %s:%d: %v", filepath.Base(path), i+1, err)
			res.Invalid++
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		_, err = s.store.Append(
			ctx, ev.Kind, ev.DurationMs, ev.CycleCompleted,
		)
		var verr *db.ValidationError
		if errors.As(err, &verr) {
			log.Printf("inbox: %s:%d: %v", filepath.Base(path), i+1, err)
			res.Invalid++
			continue
		}
		if err != nil {
			if werr := rewrite(path, lines[i:]); werr != nil {
				return res, errors.Join(err, werr)
			}
			return res, fmt.Errorf("ingesting %s: %w", path, err)
		}
		res.Recorded++
	}

	if err := os.Rename(path, donePath(path)); err != nil {
		return res, fmt.Errorf("marking %s done: %w", path, err)
	}
	return res, nil
}

func donePath(path string) string {
	return strings.TrimSuffix(path, spoolExt) + doneExt
}

// rewrite atomically replaces path with lines.
func rewrite(path string, lines [][]byte) error {
	tmp := path + ".tmp"
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	return nil
}

// Run ingests what is already in the inbox, then watches it and
// ingests new files as they settle. The returned stop function
// ends the watch.
func (s *Spool) Run(
	ctx context.Context, debounce time.Duration,
) (stop func(), err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating inbox: %w", err)
	}
	if res, err := s.Scan(ctx); err != nil {
		log.Printf("inbox: initial scan: %v", err)
	} else if res.Files > 0 {
		log.Printf("inbox: ingested %d file(s), %d session(s)",
			res.Files, res.Recorded)
	}

	w, err := NewWatcher(debounce, func(paths []string) {
		res, err := s.IngestPaths(ctx, paths)
		if err != nil {
			log.Printf("inbox: %v", err)
		}
		if res.Files > 0 {
			log.Printf("inbox: ingested %d file(s), %d session(s)",
				res.Files, res.Recorded)
		}
	})
	if err != nil {
		return nil, err
	}
	w.Start()
	if err := w.Watch(s.dir); err != nil {
		w.Stop()
		return nil, err
	}
	return w.Stop, nil
}
