package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB manages a write connection and a read-only pool.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes

	now func() time.Time
	// lastOccurred is the newest occurred_at handed out, in Unix
	// milliseconds. Guarded by mu.
	lastOccurred int64

	phaseMu sync.RWMutex
	phases  PhaseConfig
}

// Option configures a DB at open time.
type Option func(*DB)

// WithClock replaces the wall clock used to stamp new sessions.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-16000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens a SQLite database at the given path.
// It configures WAL mode and returns a DB with separate writer
// and reader connections.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	db := &DB{writer: writer, reader: reader, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func (db *DB) init() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.writer.Exec(schemaSQL); err != nil {
		return err
	}

	if err := db.writer.QueryRow(
		"SELECT COALESCE(MAX(occurred_at), 0) FROM sessions",
	).Scan(&db.lastOccurred); err != nil {
		return fmt.Errorf("reading last occurred_at: %w", err)
	}

	def := DefaultPhaseConfig()
	if _, err := db.writer.Exec(`
		INSERT OR IGNORE INTO phase_config
			(id, focus_ms, short_break_ms, long_break_ms)
		VALUES (1, ?, ?, ?)`,
		def.FocusMs, def.ShortBreakMs, def.LongBreakMs,
	); err != nil {
		return fmt.Errorf("seeding phase config: %w", err)
	}
	return db.loadPhaseConfig()
}

// Close closes both writer and reader connections.
func (db *DB) Close() error {
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// Update executes fn within the write lock and a transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(
	ctx context.Context, fn func(tx *sql.Tx) error,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// nextOccurredAt returns the stamp for a new session: the current
// clock reading, but never earlier than the previous stamp. The
// caller must hold mu.
func (db *DB) nextOccurredAt() int64 {
	ms := db.now().UnixMilli()
	if ms < db.lastOccurred {
		ms = db.lastOccurred
	}
	db.lastOccurred = ms
	return ms
}
