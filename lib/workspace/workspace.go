// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace manages isolated build directories under one
// ephemeral root. Every build attempt gets its own directory, named
// by a random build id, materialized from nothing and scrubbed after
// use — no content ever carries over between builds.
//
// Directory creation cost is amortized with a pool: a scrubbed
// directory returns to a free list and is renamed to the next build's
// id on reuse. Reuse is safe because a directory is verified empty
// both when it is released and again when it is handed out; a
// directory that cannot be proven empty is deleted instead of reused.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DirPrefix is the name prefix of every workspace directory under the
// pool root. The janitor uses it to recognize abandoned workspaces.
const DirPrefix = "ws-"

// PoolConfig holds the parameters for creating a workspace pool.
type PoolConfig struct {
	// Root is the directory that holds all build workspaces.
	// Created if it does not exist.
	Root string

	// Capacity is the maximum number of scrubbed directories kept
	// for reuse. Defaults to 4 if zero or negative. Capacity bounds
	// the free list, not the number of concurrent workspaces.
	Capacity int

	// Logger receives scrub warnings. Defaults to a discard logger.
	Logger *slog.Logger
}

// Pool hands out isolated build directories. Safe for concurrent use.
type Pool struct {
	root     string
	capacity int
	logger   *slog.Logger

	mu   sync.Mutex
	free []string
}

// NewPool creates a pool rooted at cfg.Root.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace: Root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating root %s: %w", cfg.Root, err)
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pool{root: cfg.Root, capacity: capacity, logger: logger}, nil
}

// Root returns the pool's root directory.
func (p *Pool) Root() string {
	return p.root
}

// Acquire returns an empty workspace with a fresh build id. The
// workspace directory is either newly created or a verified-empty
// pooled directory renamed to the new id.
func (p *Pool) Acquire() (*Workspace, error) {
	buildID := uuid.NewString()[:8]
	dir := filepath.Join(p.root, DirPrefix+buildID)

	for {
		p.mu.Lock()
		if len(p.free) == 0 {
			p.mu.Unlock()
			break
		}
		candidate := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.mu.Unlock()

		// The janitor may have removed a long-idle free directory;
		// a vanished candidate just means we fall through to the
		// next one.
		entries, err := os.ReadDir(candidate)
		if err != nil {
			continue
		}
		if len(entries) != 0 {
			// A released directory is scrubbed before it joins
			// the free list, so content here means something
			// outside the pool wrote into it. Do not trust it.
			p.logger.Warn("discarding non-empty pooled workspace", "dir", candidate)
			os.RemoveAll(candidate)
			continue
		}
		if err := os.Rename(candidate, dir); err != nil {
			os.RemoveAll(candidate)
			continue
		}
		return &Workspace{Dir: dir, BuildID: buildID, pool: p}, nil
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating %s: %w", dir, err)
	}
	return &Workspace{Dir: dir, BuildID: buildID, pool: p}, nil
}

// release scrubs a workspace directory and either pools it for reuse
// or removes it when the free list is full or the scrub failed.
func (p *Pool) release(dir string) error {
	if err := scrubDir(dir); err != nil {
		p.logger.Warn("workspace scrub failed, removing", "dir", dir, "error", err)
		if removeErr := os.RemoveAll(dir); removeErr != nil {
			return fmt.Errorf("workspace: removing unscrubbable %s: %w", dir, removeErr)
		}
		return nil
	}

	p.mu.Lock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, dir)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("workspace: removing %s: %w", dir, err)
	}
	return nil
}

// scrubDir removes every entry from dir, leaving dir itself in place.
func scrubDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Workspace is one isolated build directory, live from Acquire until
// Destroy.
type Workspace struct {
	// Dir is the absolute workspace path.
	Dir string

	// BuildID is the random id naming this build attempt. It
	// appears in the directory name, log lines, and retention
	// archive names.
	BuildID string

	pool    *Pool
	destroy sync.Once
}

// Materialize writes the given files (relative path → content) into
// the workspace, creating parent directories as needed. Paths must be
// local: absolute paths and paths escaping the workspace are
// rejected. Files are written in sorted path order so materialization
// is deterministic.
func (w *Workspace) Materialize(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if !filepath.IsLocal(path) {
			return fmt.Errorf("workspace: non-local file path %q", path)
		}
		target := filepath.Join(w.Dir, path)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("workspace: creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(files[path]), 0o644); err != nil {
			return fmt.Errorf("workspace: writing %s: %w", path, err)
		}
	}
	return nil
}

// Destroy scrubs the workspace and returns its directory to the
// pool. Idempotent; only the first call does work.
func (w *Workspace) Destroy() error {
	var err error
	w.destroy.Do(func() {
		err = w.pool.release(w.Dir)
	})
	return err
}
