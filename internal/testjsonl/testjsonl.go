// Package testjsonl provides shared JSONL fixture builders for
// timer device payloads and session bodies. Used by the ingest,
// server and cmd test packages.
package testjsonl

import (
	"encoding/json"
	"strings"
)

// PhaseJSON returns a device payload reporting a finished phase
// (FOCUS, SHORT_BREAK, LONG_BREAK) as a JSON string. The
// cycle_completed field is only present when set.
func PhaseJSON(
	phase string, durationMs int64, cycleCompleted bool,
) string {
	m := map[string]any{
		"phase":       phase,
		"duration_ms": durationMs,
	}
	if cycleCompleted {
		m["cycle_completed"] = true
	}
	return mustMarshal(m)
}

// StatusJSON returns a status-only device payload, one that
// carries no finished duration, as a JSON string.
func StatusJSON(phase string, remainingMs int64) string {
	return mustMarshal(map[string]any{
		"phase":     phase,
		"remaining": remainingMs,
	})
}

// SessionJSON returns a session record body as accepted by the
// REST API.
func SessionJSON(
	kind string, durationMs int64, cycleCompleted bool,
) string {
	return mustMarshal(map[string]any{
		"kind":            kind,
		"duration_ms":     durationMs,
		"cycle_completed": cycleCompleted,
	})
}

// JoinJSONL joins JSON lines with newlines and appends a
// trailing newline.
func JoinJSONL(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// SpoolBuilder constructs JSONL spool content using a fluent
// API.
type SpoolBuilder struct {
	lines []string
}

// NewSpoolBuilder returns a new empty SpoolBuilder.
func NewSpoolBuilder() *SpoolBuilder {
	return &SpoolBuilder{}
}

// AddPhase appends a finished-phase line.
func (b *SpoolBuilder) AddPhase(
	phase string, durationMs int64, cycleCompleted bool,
) *SpoolBuilder {
	b.lines = append(b.lines, PhaseJSON(phase, durationMs, cycleCompleted))
	return b
}

// AddStatus appends a status-only line.
func (b *SpoolBuilder) AddStatus(
	phase string, remainingMs int64,
) *SpoolBuilder {
	b.lines = append(b.lines, StatusJSON(phase, remainingMs))
	return b
}

// AddRaw appends an arbitrary raw line.
func (b *SpoolBuilder) AddRaw(line string) *SpoolBuilder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *SpoolBuilder) String() string {
	return JoinJSONL(b.lines...)
}

// StringNoTrailingNewline returns the JSONL content without a
// trailing newline.
func (b *SpoolBuilder) StringNoTrailingNewline() string {
	return strings.Join(b.lines, "\n")
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
