// Package history implements C2, the durable record of every download the
// bot has ever tracked: completed, errored, or removed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	otelpkg "github.com/ariabot/ariabot/internal/otel"
)

// Store is a single-writer SQLite-backed history table. Callers share one
// Store across goroutines; the driver is configured for exactly one
// connection so writers never interleave.
type Store struct {
	db         *sql.DB
	maxHistory int
	metrics    *otelpkg.Metrics
}

// SetMetrics wires an optional metrics recorder after Open; every Upsert
// call after this point is counted against it.
func (s *Store) SetMetrics(m *otelpkg.Metrics) {
	s.metrics = m
}

// Open creates (or reuses) the sqlite file at path and ensures its schema.
// maxHistory bounds how many rows Upsert retains; zero or negative disables
// trimming.
func Open(path string, maxHistory int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, maxHistory: maxHistory}
	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("configure pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS download_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	gid            TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	status         TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	size           INTEGER,
	error_code     TEXT,
	error_message  TEXT,
	files          TEXT,
	notified       INTEGER NOT NULL DEFAULT 0,
	extra          TEXT
);
CREATE INDEX IF NOT EXISTS idx_download_history_gid ON download_history(gid);
CREATE INDEX IF NOT EXISTS idx_download_history_timestamp ON download_history(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_download_history_status ON download_history(status);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// retryOnBusy retries f when sqlite reports the single writer connection is
// momentarily locked by a checkpoint, using small bounded jittered backoff.
// With MaxOpenConns(1) this should rarely trigger; it exists for the WAL
// checkpoint window where a reader briefly blocks the writer.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 25 * time.Millisecond
	const maxDelay = 250 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
