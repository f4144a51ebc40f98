// Package rollup derives calendar-bucketed and lifetime totals
// from the session ledger.
package rollup

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/timeutil"
)

// MsPerMinute converts stored durations to minutes.
const MsPerMinute = 60_000.0

// Store is the subset of the event store the engine reads.
type Store interface {
	QueryRange(
		ctx context.Context, kind db.Kind,
		from time.Time, to *time.Time,
	) iter.Seq2[db.Session, error]
	Sum(ctx context.Context, kind db.Kind, span db.Span) (int64, error)
	Count(ctx context.Context, kind db.Kind) (int, error)
	CountCompletedCycles(ctx context.Context) (int, error)
}

// DayMinutes is one calendar day of focus time.
type DayMinutes struct {
	Day     string  `json:"day" yaml:"day"`
	Minutes float64 `json:"minutes" yaml:"minutes"`
}

// Series is a run of consecutive days ending today.
type Series struct {
	Days  []DayMinutes
	Total float64
	Avg   float64
}

// DayTotals holds one day's focus and break minutes.
type DayTotals struct {
	Day      string
	FocusMin float64
	BreakMin float64
}

// Lifetime holds unbounded totals over the whole ledger.
type Lifetime struct {
	FocusMin        float64
	BreakMin        float64
	FocusCount      int
	BreakCount      int
	CompletedCycles int
}

// Engine computes rollups in a fixed time zone.
type Engine struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the clock that decides which day is today.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an Engine bucketing days in loc (nil means Local).
func New(store Store, loc *time.Location, opts ...Option) *Engine {
	if loc == nil {
		loc = time.Local
	}
	e := &Engine{store: store, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the zone used for day bucketing.
func (e *Engine) Location() *time.Location { return e.loc }

// Now returns the engine's current instant.
func (e *Engine) Now() time.Time { return e.now() }

// At returns a copy of e whose clock is frozen at t, so several
// rollups agree on which day is today.
func (e *Engine) At(t time.Time) *Engine {
	c := *e
	c.now = func() time.Time { return t }
	return &c
}

func minutes(ms int64) float64 {
	return float64(ms) / MsPerMinute
}

// Today returns focus and break minutes of sessions whose local
// day is today.
func (e *Engine) Today(ctx context.Context) (DayTotals, error) {
	now := e.now()
	key := timeutil.DayKey(now, e.loc)
	span := db.Span{
		From: timeutil.StartOfDay(now, e.loc),
		Match: func(t time.Time) bool {
			return timeutil.DayKey(t, e.loc) == key
		},
	}

	focus, err := e.store.Sum(ctx, db.KindFocus, span)
	if err != nil {
		return DayTotals{}, fmt.Errorf("summing today's focus: %w", err)
	}
	brk, err := e.store.Sum(ctx, db.KindBreak, span)
	if err != nil {
		return DayTotals{}, fmt.Errorf("summing today's breaks: %w", err)
	}
	return DayTotals{
		Day:      key,
		FocusMin: minutes(focus),
		BreakMin: minutes(brk),
	}, nil
}

// LastDays returns focus minutes for the n calendar days ending
// today, oldest first. Days without sessions are present with 0
// minutes, and Avg always divides by n.
func (e *Engine) LastDays(ctx context.Context, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("day count must be positive, got %d", n)
	}
	keys := timeutil.LastNDays(e.now(), e.loc, n)
	from, err := timeutil.ParseDayKey(keys[0], e.loc)
	if err != nil {
		return Series{}, err
	}

	byDay := make(map[string]int64, n)
	for s, err := range e.store.QueryRange(ctx, db.KindFocus, from, nil) {
		if err != nil {
			return Series{}, fmt.Errorf("reading focus sessions: %w", err)
		}
		byDay[timeutil.DayKey(s.OccurredAt, e.loc)] += s.DurationMs
	}

	series := Series{Days: make([]DayMinutes, n)}
	for i, key := range keys {
		m := minutes(byDay[key])
		series.Days[i] = DayMinutes{Day: key, Minutes: m}
		series.Total += m
	}
	series.Avg = series.Total / float64(n)
	return series, nil
}

// Lifetime returns totals and counts over every stored session.
func (e *Engine) Lifetime(ctx context.Context) (Lifetime, error) {
	var lt Lifetime

	focus, err := e.store.Sum(ctx, db.KindFocus, db.Span{})
	if err != nil {
		return Lifetime{}, fmt.Errorf("summing lifetime focus: %w", err)
	}
	brk, err := e.store.Sum(ctx, db.KindBreak, db.Span{})
	if err != nil {
		return Lifetime{}, fmt.Errorf("summing lifetime breaks: %w", err)
	}
	lt.FocusMin, lt.BreakMin = minutes(focus), minutes(brk)

	if lt.FocusCount, err = e.store.Count(ctx, db.KindFocus); err != nil {
		return Lifetime{}, fmt.Errorf("counting focus sessions: %w", err)
	}
	if lt.BreakCount, err = e.store.Count(ctx, db.KindBreak); err != nil {
		return Lifetime{}, fmt.Errorf("counting break sessions: %w", err)
	}
	if lt.CompletedCycles, err = e.store.CountCompletedCycles(ctx); err != nil {
		return Lifetime{}, fmt.Errorf("counting completed cycles: %w", err)
	}
	return lt, nil
}
