// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package compile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/kiln-build/kiln/lib/abi"
	"github.com/kiln-build/kiln/lib/archive"
	"github.com/kiln-build/kiln/lib/artifactcache"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/contentkey"
	"github.com/kiln-build/kiln/lib/journal"
	"github.com/kiln-build/kiln/lib/toolchain"
	"github.com/kiln-build/kiln/lib/workspace"
)

const (
	// DefaultConcurrency is the number of toolchain processes allowed
	// to run at once when Config.Concurrency is zero. Contract builds
	// are memory-hungry; two slots keeps a small host responsive
	// while still overlapping compilation with artifact I/O.
	DefaultConcurrency = 2

	// DefaultBuildTimeout bounds a single toolchain run.
	DefaultBuildTimeout = 5 * time.Minute

	// journalTimeout bounds the advisory journal write that follows
	// each build.
	journalTimeout = 5 * time.Second
)

// Invoker runs a rendered toolchain invocation. Satisfied by
// [toolchain.Runner].
type Invoker interface {
	Invoke(ctx context.Context, inv *toolchain.Invocation) (*toolchain.InvokeResult, error)
}

// BuildRecorder receives one entry per build attempt. Satisfied by
// [journal.Journal]. Recording errors are logged, never propagated:
// the journal is an operational record, not part of the build.
type BuildRecorder interface {
	RecordBuild(ctx context.Context, entry journal.Entry) error
}

// Config holds the parameters for constructing a [Service].
type Config struct {
	// Cache is the artifact store. Required.
	Cache *artifactcache.Store

	// Workspaces supplies pooled build directories. Required.
	Workspaces *workspace.Pool

	// Profile describes the toolchain to run. Required, and must
	// validate.
	Profile *toolchain.Profile

	// Runner executes invocations. Defaults to a
	// [toolchain.Runner] using Logger.
	Runner Invoker

	// Concurrency is the number of simultaneous toolchain
	// processes. Defaults to [DefaultConcurrency].
	Concurrency int

	// BuildTimeout bounds one build attempt, from workspace
	// acquisition through artifact commit. Defaults to
	// [DefaultBuildTimeout].
	BuildTimeout time.Duration

	// AccelDir, when set, is a shared durable directory handed to
	// every build as its toolchain target directory, so incremental
	// compilation state survives across builds. When empty each
	// build uses a directory inside its own workspace.
	AccelDir string

	// RetainDir, when set, receives an archive of the workspace of
	// every failed build before the workspace is destroyed.
	RetainDir string

	// RetainCompression selects the archive compression for
	// retained workspaces.
	RetainCompression archive.Compression

	// Journal, when set, records build attempts.
	Journal BuildRecorder

	// Metrics, when set, receives pipeline telemetry.
	Metrics *Metrics

	// Clock provides build timing. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives build lifecycle logs. Defaults to a discard
	// logger.
	Logger *slog.Logger

	// BaseContext is the context builds run on once started, so a
	// build outlives the request that triggered it. Defaults to
	// [context.Background]. Cancel it to stop in-flight builds at
	// shutdown.
	BaseContext context.Context
}

// Service compiles contract source into cached artifacts. Safe for
// concurrent use.
type Service struct {
	cache             *artifactcache.Store
	workspaces        *workspace.Pool
	profile           *toolchain.Profile
	runner            Invoker
	buildTimeout      time.Duration
	accelDir          string
	retainDir         string
	retainCompression archive.Compression
	journal           BuildRecorder
	metrics           *Metrics
	clock             clock.Clock
	logger            *slog.Logger
	baseCtx           context.Context

	flights singleflight.Group
	slots   *semaphore.Weighted
}

// New validates cfg and constructs a service.
func New(cfg Config) (*Service, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("compile: Cache is required")
	}
	if cfg.Workspaces == nil {
		return nil, fmt.Errorf("compile: Workspaces is required")
	}
	if cfg.Profile == nil {
		return nil, fmt.Errorf("compile: Profile is required")
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	buildTimeout := cfg.BuildTimeout
	if buildTimeout <= 0 {
		buildTimeout = DefaultBuildTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runner := cfg.Runner
	if runner == nil {
		runner = toolchain.NewRunner(logger)
	}
	baseCtx := cfg.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Service{
		cache:             cfg.Cache,
		workspaces:        cfg.Workspaces,
		profile:           cfg.Profile,
		runner:            runner,
		buildTimeout:      buildTimeout,
		accelDir:          cfg.AccelDir,
		retainDir:         cfg.RetainDir,
		retainCompression: cfg.RetainCompression,
		journal:           cfg.Journal,
		metrics:           cfg.Metrics,
		clock:             clk,
		logger:            logger,
		baseCtx:           baseCtx,
		slots:             semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Outcome describes how a compile request was satisfied.
type Outcome string

const (
	// OutcomeBuilt means this request ran the toolchain.
	OutcomeBuilt Outcome = "built"

	// OutcomeAttached means the request joined a build another
	// request had already started.
	OutcomeAttached Outcome = "attached"

	// OutcomeCached means the artifact was served from the cache.
	OutcomeCached Outcome = "cached"

	// OutcomeBackfilled means the artifact was served from the
	// cache after regenerating its lost interface side-car.
	OutcomeBackfilled Outcome = "backfilled"
)

// Metric-only outcomes for requests that produced no result.
const (
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
)

// Result is a satisfied compile request.
type Result struct {
	// Key identifies the artifact.
	Key contentkey.Key

	// Binary is the compiled artifact.
	Binary []byte

	// Description is the contract's extracted interface.
	Description *abi.Description

	// Outcome says how the request was satisfied.
	Outcome Outcome

	// CreatedAt is when the artifact was committed to the cache,
	// zero when the cache entry predates its side-car.
	CreatedAt time.Time
}

// Compile resolves name and source to a compiled artifact, building
// one if the cache cannot satisfy the request. name is informational;
// the artifact is identified by the content key of source alone, so
// the same source under two names compiles once.
//
// ctx bounds only this caller's wait. A build started on its behalf
// continues on the service context after ctx is done.
func (s *Service) Compile(ctx context.Context, name, source string) (*Result, error) {
	key := contentkey.FromSource(source)
	logger := s.logger.With("key", key, "name", name)

	result, found, err := s.lookup(key, source)
	if err != nil {
		s.metrics.recordRequest(outcomeFailed)
		return nil, err
	}
	if found {
		logger.Debug("cache hit", "outcome", result.Outcome)
		s.metrics.recordRequest(string(result.Outcome))
		return result, nil
	}

	// Collapse concurrent requests for one key into a single build.
	// Only the first caller's closure runs; ran distinguishes the
	// caller that built from the callers that attached.
	ran := false
	flights := s.flights.DoChan(key.ID(), func() (any, error) {
		ran = true
		return s.build(name, source, key, logger)
	})

	select {
	case <-ctx.Done():
		logger.Warn("compile abandoned", "cause", ctx.Err())
		s.metrics.recordRequest(outcomeAbandoned)
		return nil, ctx.Err()
	case flight := <-flights:
		if flight.Err != nil {
			s.metrics.recordRequest(outcomeFailed)
			return nil, flight.Err
		}
		result := flight.Val.(*Result)
		if !ran && result.Outcome == OutcomeBuilt {
			attached := *result
			attached.Outcome = OutcomeAttached
			result = &attached
		}
		s.metrics.recordRequest(string(result.Outcome))
		return result, nil
	}
}

// lookup serves key from the artifact cache, regenerating a lost
// interface side-car from the submitted source, which hashes to the
// same key.
func (s *Service) lookup(key contentkey.Key, source string) (*Result, bool, error) {
	record, found, err := s.cache.Lookup(key)
	if err != nil || !found {
		return nil, false, err
	}

	outcome := OutcomeCached
	description := record.Description
	if description == nil {
		extracted := abi.Extract(source)
		description = &extracted
		if err := s.cache.WriteDescription(key, record.Binary, key.Digest(), description); err != nil {
			// Serve the result anyway; the next request retries the
			// backfill.
			s.logger.Warn("interface backfill failed", "key", key, "error", err)
		}
		outcome = OutcomeBackfilled
		s.metrics.recordBackfill()
	}

	return &Result{
		Key:         key,
		Binary:      record.Binary,
		Description: description,
		Outcome:     outcome,
		CreatedAt:   record.CreatedAt,
	}, true, nil
}

// build runs as the singleflight closure for key. It re-checks the
// cache first: a request that raced a finishing build finds the
// artifact committed by the time its own flight runs.
func (s *Service) build(name, source string, key contentkey.Key, logger *slog.Logger) (*Result, error) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.buildTimeout)
	defer cancel()

	if result, found, err := s.lookup(key, source); err != nil {
		return nil, err
	} else if found {
		return result, nil
	}

	start := s.clock.Now()
	result, err := s.runBuild(ctx, source, key, logger)
	s.record(name, key, s.clock.Now().Sub(start), err)
	if err != nil {
		logger.Error("build failed", "error", err)
		return nil, err
	}
	return result, nil
}

func (s *Service) runBuild(ctx context.Context, source string, key contentkey.Key, logger *slog.Logger) (*Result, error) {
	ws, err := s.workspaces.Acquire()
	if err != nil {
		return nil, err
	}
	logger = logger.With("build_id", ws.BuildID)

	built := false
	defer func() {
		if !built && s.retainDir != "" {
			s.retainWorkspace(ws, key, logger)
		}
		if err := ws.Destroy(); err != nil {
			logger.Warn("workspace teardown failed", "error", err)
		}
	}()

	targetDir := s.accelDir
	if targetDir == "" {
		targetDir = filepath.Join(ws.Dir, "target")
	}
	inv, err := s.profile.Render(key, ws.Dir, targetDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Materialize(inv.Files(source)); err != nil {
		return nil, err
	}

	// The slot covers only the toolchain process itself. Waiters are
	// admitted in arrival order.
	admitStart := s.clock.Now()
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("compile: waiting for a build slot: %w", err)
	}
	s.metrics.recordAdmissionWait(s.clock.Now().Sub(admitStart))

	s.metrics.buildStarted()
	logger.Info("build started", "command", inv.CommandLine())
	run, invokeErr := s.runner.Invoke(ctx, inv)
	s.slots.Release(1)
	s.metrics.buildFinished()
	if invokeErr != nil {
		return nil, invokeErr
	}
	s.metrics.recordBuildDuration(run.Duration)

	binary, err := os.ReadFile(run.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("compile: reading built artifact: %w", err)
	}

	description := abi.Extract(source)
	record, err := s.cache.Commit(key, binary, key.Digest(), &description)
	if err != nil {
		return nil, err
	}
	built = true

	logger.Info("build complete",
		"duration", run.Duration,
		"binary_size", len(binary),
		"methods", len(description.Methods))

	return &Result{
		Key:         key,
		Binary:      record.Binary,
		Description: record.Description,
		Outcome:     OutcomeBuilt,
		CreatedAt:   record.CreatedAt,
	}, nil
}

// record writes the journal entry for one build attempt.
func (s *Service) record(name string, key contentkey.Key, elapsed time.Duration, buildErr error) {
	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		Key:      key.ID(),
		Name:     name,
		Outcome:  journal.OutcomeBuilt,
		Duration: elapsed,
	}
	if buildErr != nil {
		entry.Outcome = journal.OutcomeFailed
		entry.Detail = buildErr.Error()
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, journalTimeout)
	defer cancel()
	if err := s.journal.RecordBuild(ctx, entry); err != nil {
		s.logger.Warn("journal write failed", "key", key, "error", err)
	}
}

// retainWorkspace archives a failed build's workspace for diagnosis.
func (s *Service) retainWorkspace(ws *workspace.Workspace, key contentkey.Key, logger *slog.Logger) {
	if err := os.MkdirAll(s.retainDir, 0o755); err != nil {
		logger.Warn("retain directory unavailable", "error", err)
		return
	}
	dest := filepath.Join(s.retainDir, key.ID()+"-"+ws.BuildID+s.retainCompression.Ext())
	if err := archive.Create(ws.Dir, dest, s.retainCompression); err != nil {
		logger.Warn("retaining failed workspace", "error", err)
		return
	}
	logger.Info("failed workspace retained", "archive", dest)
}
