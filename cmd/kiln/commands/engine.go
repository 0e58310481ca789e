// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiln-build/kiln/lib/archive"
	"github.com/kiln-build/kiln/lib/artifactcache"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/compile"
	"github.com/kiln-build/kiln/lib/config"
	"github.com/kiln-build/kiln/lib/journal"
	"github.com/kiln-build/kiln/lib/toolchain"
	"github.com/kiln-build/kiln/lib/workspace"
)

// buildEngine wires an in-process compile service from cfg, the same
// assembly cmd/kiln-build-service performs at startup. The returned
// cleanup closes the build journal and must run after the last
// Compile call.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*compile.Service, func(), error) {
	clk := clock.Real()

	store, err := artifactcache.Open(artifactcache.Config{
		Root:   cfg.Paths.Cache,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}

	pool, err := workspace.NewPool(workspace.PoolConfig{
		Root:     cfg.Paths.Build,
		Capacity: cfg.Build.PoolCapacity,
	})
	if err != nil {
		return nil, nil, err
	}

	profile := toolchain.Default()
	if cfg.Paths.Profile != "" {
		profile, err = toolchain.Load(cfg.Paths.Profile)
		if err != nil {
			return nil, nil, err
		}
	}

	buildJournal, err := journal.Open(journal.Config{
		Path:   cfg.Paths.Journal,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { buildJournal.Close() }

	retainCompression, err := archive.ParseCompression(cfg.Build.RetainCompression)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	compileCfg := compile.Config{
		Cache:        store,
		Workspaces:   pool,
		Profile:      profile,
		Concurrency:  cfg.Build.Concurrency,
		BuildTimeout: cfg.Build.Timeout.Std(),
		AccelDir:     cfg.Paths.Accel,
		Journal:      buildJournal,
		Clock:        clk,
		Logger:       logger,
		BaseContext:  ctx,
	}
	if cfg.Build.RetainFailures {
		compileCfg.RetainDir = cfg.Paths.Retain
		compileCfg.RetainCompression = retainCompression
	}

	engine, err := compile.New(compileCfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}
