// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package janitor reclaims disk space left behind by abnormal service
// exits. On a cron schedule it removes orphaned workspace directories
// and expired failure archives, and prunes old build journal entries.
//
// The janitor judges staleness by modification time, so it can race a
// live workspace pool: a pooled directory the janitor removes is
// simply recreated by the pool on next acquire. It never touches the
// artifact cache or the toolchain acceleration directory; both are
// durable state.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/cron"
	"github.com/kiln-build/kiln/lib/journal"
	"github.com/kiln-build/kiln/lib/workspace"
)

const (
	// DefaultSchedule sweeps nightly at 03:00 UTC.
	DefaultSchedule = "0 3 * * *"

	// DefaultMaxAge is how old a workspace directory or failure
	// archive must be before a sweep removes it. Live workspaces are
	// recycled within seconds; anything this old is an orphan.
	DefaultMaxAge = 24 * time.Hour

	// DefaultJournalMaxAge is how long build journal entries are
	// kept.
	DefaultJournalMaxAge = 30 * 24 * time.Hour
)

// Config holds the parameters for a janitor.
type Config struct {
	// BuildRoot is the directory holding workspace directories.
	// Required.
	BuildRoot string

	// RetainDir is the directory holding failure archives. Optional;
	// empty disables archive sweeping.
	RetainDir string

	// Schedule is a 5-field cron expression. Defaults to
	// DefaultSchedule.
	Schedule string

	// MaxAge is the staleness threshold for workspaces and archives.
	// Defaults to DefaultMaxAge.
	MaxAge time.Duration

	// Journal, when set, is pruned on each sweep.
	Journal *journal.Journal

	// JournalMaxAge is the retention period for journal entries.
	// Defaults to DefaultJournalMaxAge.
	JournalMaxAge time.Duration

	// Clock drives scheduling and staleness decisions.
	Clock clock.Clock

	// Logger receives sweep reports.
	Logger *slog.Logger
}

// Report summarizes one sweep.
type Report struct {
	WorkspacesRemoved int
	ArchivesRemoved   int
	JournalRemoved    int64
}

// Janitor periodically sweeps the build root.
type Janitor struct {
	buildRoot     string
	retainDir     string
	schedule      cron.Schedule
	maxAge        time.Duration
	journal       *journal.Journal
	journalMaxAge time.Duration
	clock         clock.Clock
	logger        *slog.Logger
}

// New validates the configuration and returns a Janitor.
func New(cfg Config) (*Janitor, error) {
	if cfg.BuildRoot == "" {
		return nil, fmt.Errorf("janitor: BuildRoot is required")
	}

	scheduleText := cfg.Schedule
	if scheduleText == "" {
		scheduleText = DefaultSchedule
	}
	schedule, err := cron.Parse(scheduleText)
	if err != nil {
		return nil, fmt.Errorf("janitor: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	journalMaxAge := cfg.JournalMaxAge
	if journalMaxAge <= 0 {
		journalMaxAge = DefaultJournalMaxAge
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Janitor{
		buildRoot:     cfg.BuildRoot,
		retainDir:     cfg.RetainDir,
		schedule:      schedule,
		maxAge:        maxAge,
		journal:       cfg.Journal,
		journalMaxAge: journalMaxAge,
		clock:         clk,
		logger:        logger,
	}, nil
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		now := j.clock.Now()
		next, err := j.schedule.Next(now)
		if err != nil {
			return fmt.Errorf("janitor: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.clock.After(next.Sub(now)):
		}

		report, err := j.Sweep(ctx)
		if err != nil {
			j.logger.Warn("sweep failed", "error", err)
			continue
		}
		j.logger.Info("sweep done",
			"workspaces_removed", report.WorkspacesRemoved,
			"archives_removed", report.ArchivesRemoved,
			"journal_removed", report.JournalRemoved,
		)
	}
}

// Sweep removes stale workspaces and archives once and prunes the
// journal. Individual removal failures are logged and skipped; the
// returned error covers only a build root that cannot be listed.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := j.clock.Now().Add(-j.maxAge)

	entries, err := os.ReadDir(j.buildRoot)
	if err != nil {
		return report, fmt.Errorf("janitor: listing %s: %w", j.buildRoot, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspace.DirPrefix) {
			continue
		}
		path := filepath.Join(j.buildRoot, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// Vanished since ReadDir; the pool got there first.
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("removing stale workspace", "path", path, "error", err)
			continue
		}
		j.logger.Info("removed stale workspace", "path", path, "mod_time", info.ModTime())
		report.WorkspacesRemoved++
	}

	report.ArchivesRemoved = j.sweepArchives(cutoff)

	if j.journal != nil {
		removed, err := j.journal.Prune(ctx, j.journalMaxAge)
		if err != nil {
			j.logger.Warn("pruning journal", "error", err)
		}
		report.JournalRemoved = removed
	}

	return report, nil
}

// sweepArchives removes failure archives older than the cutoff.
func (j *Janitor) sweepArchives(cutoff time.Time) int {
	if j.retainDir == "" {
		return 0
	}
	entries, err := os.ReadDir(j.retainDir)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("listing retain dir", "path", j.retainDir, "error", err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".tar") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.retainDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("removing archive", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
