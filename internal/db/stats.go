package db

import (
	"context"
	"fmt"
)

// Stats holds row counts for the sessions table.
type Stats struct {
	SessionCount    int `json:"session_count"`
	FocusCount      int `json:"focus_count"`
	BreakCount      int `json:"break_count"`
	CompletedCycles int `json:"completed_cycles"`
}

// GetStats returns session counts in a single query.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			COUNT(*),
			COALESCE(SUM(kind = 'focus'), 0),
			COALESCE(SUM(kind = 'break'), 0),
			COALESCE(SUM(cycle_completed = 1), 0)
		FROM sessions`

	var s Stats
	err := db.reader.QueryRowContext(ctx, query).Scan(
		&s.SessionCount,
		&s.FocusCount,
		&s.BreakCount,
		&s.CompletedCycles,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return s, nil
}
