package db

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Kind is the type of a recorded session.
type Kind string

const (
	KindFocus Kind = "focus"
	KindBreak Kind = "break"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindFocus || k == KindBreak
}

// ParseKind converts s into a Kind, rejecting anything outside the
// closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if s == "" {
		return "", &ValidationError{Field: "kind", Reason: "required"}
	}
	if !k.Valid() {
		return "", &ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("%q must be focus or break", s),
		}
	}
	return k, nil
}

// sessionCols is the column list for session queries.
// Keep in sync with scanSessionRow.
const sessionCols = `id, occurred_at, kind,
	duration_ms, cycle_completed`

const (
	// DefaultSessionLimit is the default number of sessions listed.
	DefaultSessionLimit = 200
	// MaxSessionLimit is the maximum number of sessions listed.
	MaxSessionLimit = 1000
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSessionRow scans sessionCols into a Session.
func scanSessionRow(rs rowScanner) (Session, error) {
	var s Session
	var occurred int64
	var kind string
	err := rs.Scan(
		&s.ID, &occurred, &kind,
		&s.DurationMs, &s.CycleCompleted,
	)
	s.OccurredAt = time.UnixMilli(occurred).UTC()
	s.Kind = Kind(kind)
	return s, err
}

// Session is one completed focus or break interval. Rows are
// never updated or deleted once written.
type Session struct {
	ID             int64     `json:"id"`
	OccurredAt     time.Time `json:"occurred_at"`
	Kind           Kind      `json:"kind"`
	DurationMs     int64     `json:"duration_ms"`
	CycleCompleted bool      `json:"cycle_completed"`
}

// Span bounds the events considered by Sum. A zero From means no
// lower bound and a nil To means no upper bound. Match, when set,
// further filters events by their occurrence instant.
type Span struct {
	From  time.Time
	To    *time.Time
	Match func(time.Time) bool
}

// buildRangeFilter returns a WHERE clause and args selecting
// sessions of kind (any kind if empty) inside [from, to].
func buildRangeFilter(
	kind Kind, from time.Time, to *time.Time,
) (string, []any) {
	var preds []string
	var args []any

	if kind != "" {
		preds = append(preds, "kind = ?")
		args = append(args, string(kind))
	}
	if !from.IsZero() {
		preds = append(preds, "occurred_at >= ?")
		args = append(args, from.UnixMilli())
	}
	if to != nil {
		preds = append(preds, "occurred_at <= ?")
		args = append(args, to.UnixMilli())
	}

	if len(preds) == 0 {
		return "1=1", nil
	}
	return strings.Join(preds, " AND "), args
}

// Append validates and stores a new session, returning its ID.
// The store assigns both the ID and the occurrence instant.
func (db *DB) Append(
	ctx context.Context, kind Kind, durationMs int64,
	cycleCompleted bool,
) (int64, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return 0, err
	}
	if durationMs <= 0 {
		return 0, &ValidationError{
			Field:  "duration_ms",
			Reason: "must be a positive number of milliseconds",
		}
	}

	var id int64
	err := db.Update(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				occurred_at, kind, duration_ms, cycle_completed
			) VALUES (?, ?, ?, ?)`,
			db.nextOccurredAt(), string(kind),
			durationMs, cycleCompleted,
		)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, &StorageError{Op: "appending session", Err: err}
	}
	return id, nil
}

// QueryRange returns the sessions of kind (any kind if empty) that
// occurred at or after from and, when to is non-nil, at or before
// to, in insertion order. The query runs each time the sequence is
// ranged over; a failure is yielded as the final element.
func (db *DB) QueryRange(
	ctx context.Context, kind Kind, from time.Time, to *time.Time,
) iter.Seq2[Session, error] {
	return func(yield func(Session, error) bool) {
		where, args := buildRangeFilter(kind, from, to)
		rows, err := db.reader.QueryContext(ctx,
			"SELECT "+sessionCols+" FROM sessions WHERE "+
				where+" ORDER BY id ASC",
			args...,
		)
		if err != nil {
			yield(Session{}, fmt.Errorf("querying sessions: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			s, err := scanSessionRow(rows)
			if err != nil {
				yield(Session{}, fmt.Errorf("scanning session: %w", err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Session{}, fmt.Errorf("iterating sessions: %w", err))
		}
	}
}

// Sum returns the total duration in milliseconds of sessions of
// kind inside span. It returns 0 when nothing matches.
func (db *DB) Sum(
	ctx context.Context, kind Kind, span Span,
) (int64, error) {
	if span.Match == nil {
		where, args := buildRangeFilter(kind, span.From, span.To)
		var total int64
		err := db.reader.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(duration_ms), 0) FROM sessions WHERE "+
				where,
			args...,
		).Scan(&total)
		if err != nil {
			return 0, fmt.Errorf("summing %s sessions: %w", kind, err)
		}
		return total, nil
	}

	var total int64
	for s, err := range db.QueryRange(ctx, kind, span.From, span.To) {
		if err != nil {
			return 0, err
		}
		if span.Match(s.OccurredAt) {
			total += s.DurationMs
		}
	}
	return total, nil
}

// Count returns the number of stored sessions of kind.
func (db *DB) Count(ctx context.Context, kind Kind) (int, error) {
	where, args := buildRangeFilter(kind, time.Time{}, nil)
	var n int
	err := db.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE "+where, args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s sessions: %w", kind, err)
	}
	return n, nil
}

// CountCompletedCycles returns the number of sessions flagged as
// completing a cycle, regardless of kind.
func (db *DB) CountCompletedCycles(ctx context.Context) (int, error) {
	var n int
	err := db.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE cycle_completed = 1",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting completed cycles: %w", err)
	}
	return n, nil
}

// ListSessions returns up to limit sessions, newest first.
func (db *DB) ListSessions(
	ctx context.Context, limit int,
) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	limit = min(limit, MaxSessionLimit)

	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+sessionCols+
			" FROM sessions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetSession returns a single session by ID.
// Returns nil, nil if not found.
func (db *DB) GetSession(
	ctx context.Context, id int64,
) (*Session, error) {
	row := db.reader.QueryRowContext(ctx,
		"SELECT "+sessionCols+" FROM sessions WHERE id = ?", id,
	)
	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %d: %w", id, err)
	}
	return &s, nil
}
