// Package insights assembles rollups into the dashboard snapshot.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pomotimer/pomoledger/internal/rollup"
	"github.com/pomotimer/pomoledger/internal/timeutil"
)

// SeriesDays is the length of the rolling focus series.
const SeriesDays = 7

// Snapshot is the full set of rollups for one request. Field
// names match the dashboard's JSON contract.
type Snapshot struct {
	TodayFocusMin           float64             `json:"today_focus_min" yaml:"today_focus_min"`
	TodayBreakMin           float64             `json:"today_break_min" yaml:"today_break_min"`
	Last7Days               []rollup.DayMinutes `json:"last_7_days" yaml:"last_7_days"`
	Last7DaysTotal          float64             `json:"last_7_days_total" yaml:"last_7_days_total"`
	Last7DaysAvg            float64             `json:"last_7_days_avg" yaml:"last_7_days_avg"`
	LifetimeFocusMin        float64             `json:"lifetime_focus_min" yaml:"lifetime_focus_min"`
	LifetimeBreakMin        float64             `json:"lifetime_break_min" yaml:"lifetime_break_min"`
	LifetimeFocusCount      int                 `json:"lifetime_focus_count" yaml:"lifetime_focus_count"`
	LifetimeBreakCount      int                 `json:"lifetime_break_count" yaml:"lifetime_break_count"`
	LifetimeCompletedCycles int                 `json:"lifetime_completed_cycles" yaml:"lifetime_completed_cycles"`
	Timezone                string              `json:"timezone" yaml:"timezone"`
	GeneratedAt             time.Time           `json:"generated_at" yaml:"generated_at"`
}

// AggregationError reports a store read that failed while a
// snapshot was being computed. No partial snapshot accompanies it.
type AggregationError struct {
	Part string
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregating %s: %v", e.Part, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Service computes snapshots from a rollup engine.
type Service struct {
	engine *rollup.Engine
}

// NewService returns a Service backed by engine.
func NewService(engine *rollup.Engine) *Service {
	return &Service{engine: engine}
}

// Snapshot runs the today, series and lifetime rollups
// concurrently and joins them. Each rollup reads the store
// separately, so a session appended mid-call may be reflected in
// one part and not another.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		today    rollup.DayTotals
		series   rollup.Series
		lifetime rollup.Lifetime
	)
	generated := s.engine.Now()
	engine := s.engine.At(generated)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if today, err = engine.Today(gctx); err != nil {
			return &AggregationError{Part: "today", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if series, err = engine.LastDays(gctx, SeriesDays); err != nil {
			return &AggregationError{Part: "last 7 days", Err: err}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if lifetime, err = engine.Lifetime(gctx); err != nil {
			return &AggregationError{Part: "lifetime", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		var aggErr *AggregationError
		if !errors.As(err, &aggErr) {
			err = &AggregationError{Part: "snapshot", Err: err}
		}
		return Snapshot{}, err
	}

	return Snapshot{
		TodayFocusMin:           today.FocusMin,
		TodayBreakMin:           today.BreakMin,
		Last7Days:               series.Days,
		Last7DaysTotal:          series.Total,
		Last7DaysAvg:            series.Avg,
		LifetimeFocusMin:        lifetime.FocusMin,
		LifetimeBreakMin:        lifetime.BreakMin,
		LifetimeFocusCount:      lifetime.FocusCount,
		LifetimeBreakCount:      lifetime.BreakCount,
		LifetimeCompletedCycles: lifetime.CompletedCycles,
		Timezone:                timeutil.ZoneName(s.engine.Location()),
		GeneratedAt:             generated.UTC(),
	}, nil
}
