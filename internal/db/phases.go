package db

import (
	"context"
	"fmt"
)

// Default phase durations in milliseconds.
const (
	DefaultFocusMs      int64 = 25 * 60 * 1000
	DefaultShortBreakMs int64 = 5 * 60 * 1000
	DefaultLongBreakMs  int64 = 15 * 60 * 1000
)

// PhaseConfig holds the timer's phase durations in milliseconds.
type PhaseConfig struct {
	FocusMs      int64 `json:"focus_ms" yaml:"focus_ms"`
	ShortBreakMs int64 `json:"short_break_ms" yaml:"short_break_ms"`
	LongBreakMs  int64 `json:"long_break_ms" yaml:"long_break_ms"`
}

// DefaultPhaseConfig returns the 25/5/15 minute defaults.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		FocusMs:      DefaultFocusMs,
		ShortBreakMs: DefaultShortBreakMs,
		LongBreakMs:  DefaultLongBreakMs,
	}
}

// PhaseUpdate is a partial PhaseConfig. Nil fields keep their
// current value.
type PhaseUpdate struct {
	FocusMs      *int64
	ShortBreakMs *int64
	LongBreakMs  *int64
}

// Empty reports whether the update sets no field.
func (u PhaseUpdate) Empty() bool {
	return u.FocusMs == nil && u.ShortBreakMs == nil &&
		u.LongBreakMs == nil
}

// Validate rejects non-positive durations.
func (u PhaseUpdate) Validate() error {
	for _, f := range []struct {
		name string
		v    *int64
	}{
		{"focus_ms", u.FocusMs},
		{"short_break_ms", u.ShortBreakMs},
		{"long_break_ms", u.LongBreakMs},
	} {
		if f.v != nil && *f.v <= 0 {
			return &ValidationError{
				Field:  f.name,
				Reason: "must be a positive number of milliseconds",
			}
		}
	}
	return nil
}

// Merge returns c with the fields set in u applied.
func (c PhaseConfig) Merge(u PhaseUpdate) PhaseConfig {
	if u.FocusMs != nil {
		c.FocusMs = *u.FocusMs
	}
	if u.ShortBreakMs != nil {
		c.ShortBreakMs = *u.ShortBreakMs
	}
	if u.LongBreakMs != nil {
		c.LongBreakMs = *u.LongBreakMs
	}
	return c
}

// loadPhaseConfig reads the stored row into the in-memory copy.
// Called once from init with mu held.
func (db *DB) loadPhaseConfig() error {
	var c PhaseConfig
	err := db.writer.QueryRow(`
		SELECT focus_ms, short_break_ms, long_break_ms
		FROM phase_config WHERE id = 1`,
	).Scan(&c.FocusMs, &c.ShortBreakMs, &c.LongBreakMs)
	if err != nil {
		return fmt.Errorf("loading phase config: %w", err)
	}
	db.phaseMu.Lock()
	db.phases = c
	db.phaseMu.Unlock()
	return nil
}

// GetPhaseConfig returns the current phase durations.
func (db *DB) GetPhaseConfig() PhaseConfig {
	db.phaseMu.RLock()
	defer db.phaseMu.RUnlock()
	return db.phases
}

// UpdatePhaseConfig applies u to the stored configuration and
// returns the merged result. The change is written through to the
// database before it becomes visible to GetPhaseConfig.
func (db *DB) UpdatePhaseConfig(
	ctx context.Context, u PhaseUpdate,
) (PhaseConfig, error) {
	if err := u.Validate(); err != nil {
		return PhaseConfig{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	merged, err := db.writePhaseConfig(ctx, u)
	if err != nil {
		return PhaseConfig{}, &StorageError{
			Op: "saving phase config", Err: err,
		}
	}

	db.phaseMu.Lock()
	db.phases = merged
	db.phaseMu.Unlock()
	return merged, nil
}

// writePhaseConfig merges u into the stored row inside one
// transaction. The caller must hold mu.
func (db *DB) writePhaseConfig(
	ctx context.Context, u PhaseUpdate,
) (PhaseConfig, error) {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return PhaseConfig{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur PhaseConfig
	if err := tx.QueryRowContext(ctx, `
		SELECT focus_ms, short_break_ms, long_break_ms
		FROM phase_config WHERE id = 1`,
	).Scan(&cur.FocusMs, &cur.ShortBreakMs, &cur.LongBreakMs); err != nil {
		return PhaseConfig{}, fmt.Errorf("reading phase config: %w", err)
	}

	merged := cur.Merge(u)
	if _, err := tx.ExecContext(ctx, `
		UPDATE phase_config SET
			focus_ms = ?, short_break_ms = ?, long_break_ms = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = 1`,
		merged.FocusMs, merged.ShortBreakMs, merged.LongBreakMs,
	); err != nil {
		return PhaseConfig{}, fmt.Errorf("updating phase config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PhaseConfig{}, fmt.Errorf("committing phase config: %w", err)
	}
	return merged, nil
}
