// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal records build attempts in a local SQLite database.
//
// The journal is an operational record, not a source of truth: the
// artifact cache on disk decides what exists, the journal answers
// "what happened" questions for operators (recent builds, failure
// rates, per-contract history). Writers treat it as advisory; a
// journal failure never fails a build.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/sqlitepool"
)

// Outcome classifies how a recorded build attempt ended.
type Outcome string

const (
	// OutcomeBuilt marks a build that produced and cached an
	// artifact.
	OutcomeBuilt Outcome = "built"

	// OutcomeFailed marks a build that ended in an error.
	OutcomeFailed Outcome = "failed"
)

// Entry is one recorded build attempt.
type Entry struct {
	// Key is the short content key of the submitted source.
	Key string

	// Name is the caller-supplied contract name.
	Name string

	// Outcome records how the build ended.
	Outcome Outcome

	// Detail carries the failure message for failed builds, empty
	// otherwise.
	Detail string

	// Duration is the wall-clock time the build took.
	Duration time.Duration

	// At is when the entry was recorded. Set by the journal on
	// write; callers leave it zero.
	At time.Time
}

// Summary aggregates the journal for status reporting.
type Summary struct {
	Total  int64
	Built  int64
	Failed int64

	// LastBuildAt is the time of the most recent entry, zero when
	// the journal is empty.
	LastBuildAt time.Time
}

// Config holds the parameters for opening a journal.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock stamps entries on write. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Journal is a build history store backed by SQLite.
type Journal struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS builds (
		id          INTEGER PRIMARY KEY,
		key         TEXT NOT NULL,
		name        TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_key ON builds(key, created_at);
	CREATE INDEX IF NOT EXISTS idx_builds_time ON builds(created_at);
`

// Open creates or opens the journal database at cfg.Path. The schema
// is applied to every connection; CREATE IF NOT EXISTS makes that
// idempotent.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: Path is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	return &Journal{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (j *Journal) Close() error {
	return j.pool.Close()
}

// RecordBuild appends one entry, stamped with the current time.
func (j *Journal) RecordBuild(ctx context.Context, entry Entry) error {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("journal: record build: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO builds (key, name, outcome, detail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				entry.Key,
				entry.Name,
				string(entry.Outcome),
				entry.Detail,
				entry.Duration.Milliseconds(),
				j.clock.Now().UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("journal: record build %s: %w", entry.Key, err)
	}
	return nil
}

// Recent returns the newest entries, most recent first. A limit of
// zero or less defaults to 50.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer j.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn,
		`SELECT key, name, outcome, detail, duration_ms, created_at
		 FROM builds ORDER BY created_at DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args:       []any{limit},
			ResultFunc: scanEntry(&entries),
		})
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// History returns the entries for one content key, most recent first.
// A limit of zero or less defaults to 50.
func (j *Journal) History(ctx context.Context, key string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer j.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn,
		`SELECT key, name, outcome, detail, duration_ms, created_at
		 FROM builds WHERE key = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args:       []any{key, limit},
			ResultFunc: scanEntry(&entries),
		})
	if err != nil {
		return nil, fmt.Errorf("journal: history %s: %w", key, err)
	}
	return entries, nil
}

// Summarize aggregates outcome counts across the whole journal.
func (j *Journal) Summarize(ctx context.Context) (Summary, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("journal: summarize: %w", err)
	}
	defer j.pool.Put(conn)

	var summary Summary
	err = sqlitex.Execute(conn,
		`SELECT outcome, COUNT(*), MAX(created_at) FROM builds GROUP BY outcome`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count := stmt.ColumnInt64(1)
				switch Outcome(stmt.ColumnText(0)) {
				case OutcomeBuilt:
					summary.Built = count
				case OutcomeFailed:
					summary.Failed = count
				}
				summary.Total += count
				if at := time.UnixMilli(stmt.ColumnInt64(2)).UTC(); at.After(summary.LastBuildAt) {
					summary.LastBuildAt = at
				}
				return nil
			},
		})
	if err != nil {
		return Summary{}, fmt.Errorf("journal: summarize: %w", err)
	}
	if summary.Total == 0 {
		summary.LastBuildAt = time.Time{}
	}
	return summary, nil
}

// Prune deletes entries older than maxAge and reports how many rows
// were removed. The janitor calls this on its sweep schedule.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := j.clock.Now().Add(-maxAge).UnixMilli()

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM builds WHERE created_at < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}

	removed := int64(conn.Changes())
	if removed > 0 {
		j.logger.Info("journal pruned", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

// scanEntry returns a ResultFunc appending scanned rows to entries.
func scanEntry(entries *[]Entry) func(stmt *sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		*entries = append(*entries, Entry{
			Key:      stmt.ColumnText(0),
			Name:     stmt.ColumnText(1),
			Outcome:  Outcome(stmt.ColumnText(2)),
			Detail:   stmt.ColumnText(3),
			Duration: time.Duration(stmt.ColumnInt64(4)) * time.Millisecond,
			At:       time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
		})
		return nil
	}
}
