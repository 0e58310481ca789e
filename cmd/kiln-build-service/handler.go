// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiln-build/kiln/lib/abi"
	"github.com/kiln-build/kiln/lib/artifactcache"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/codec"
	"github.com/kiln-build/kiln/lib/compile"
	"github.com/kiln-build/kiln/lib/contentkey"
	"github.com/kiln-build/kiln/lib/ipc"
	"github.com/kiln-build/kiln/lib/journal"
	"github.com/kiln-build/kiln/lib/service"
	"github.com/kiln-build/kiln/lib/version"
)

// maxSourceBytes caps one submitted contract source. Real contracts
// run to tens of kilobytes; anything near this limit is not source
// code.
const maxSourceBytes = 1 << 20

// BuildService is the daemon's socket-facing state.
type BuildService struct {
	compiler  *compile.Service
	store     *artifactcache.Store
	journal   *journal.Journal
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// registerActions registers all socket API actions on the server.
func (bs *BuildService) registerActions(server *service.SocketServer) {
	server.Handle(ipc.ActionCompile, bs.handleCompile)
	server.Handle(ipc.ActionDescribe, bs.handleDescribe)
	server.Handle(ipc.ActionStats, bs.handleStats)
	server.Handle(ipc.ActionPing, bs.handlePing)
}

// handleCompile resolves source to a compiled artifact, building on a
// cache miss. Slow path: the response may take a full toolchain run.
func (bs *BuildService) handleCompile(ctx context.Context, raw []byte) (any, error) {
	var request ipc.CompileRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid compile request: %v", err)
	}
	if request.Source == "" {
		return nil, fmt.Errorf("missing required field: source")
	}
	if len(request.Source) > maxSourceBytes {
		return nil, fmt.Errorf("source too large: %d bytes (limit %d)", len(request.Source), maxSourceBytes)
	}

	result, err := bs.compiler.Compile(ctx, request.Name, request.Source)
	if err != nil {
		return nil, err
	}

	return ipc.CompileResponse{
		Key:         result.Key.ID(),
		Outcome:     string(result.Outcome),
		Binary:      result.Binary,
		Description: result.Description,
		CreatedAt:   result.CreatedAt,
	}, nil
}

// handleDescribe extracts the interface from source without touching
// the toolchain or the cache.
func (bs *BuildService) handleDescribe(ctx context.Context, raw []byte) (any, error) {
	var request ipc.DescribeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid describe request: %v", err)
	}
	if request.Source == "" {
		return nil, fmt.Errorf("missing required field: source")
	}
	if len(request.Source) > maxSourceBytes {
		return nil, fmt.Errorf("source too large: %d bytes (limit %d)", len(request.Source), maxSourceBytes)
	}

	return ipc.DescribeResponse{
		Key:         contentkey.FromSource(request.Source).ID(),
		Description: abi.Extract(request.Source),
	}, nil
}

// handleStats reports the artifact cache footprint and build journal
// counters.
func (bs *BuildService) handleStats(ctx context.Context, raw []byte) (any, error) {
	stats, err := bs.store.Stats()
	if err != nil {
		return nil, err
	}

	response := ipc.StatsResponse{
		Version:            version.Short(),
		CacheEntries:       stats.Entries,
		CacheBinaryBytes:   stats.BinaryBytes,
		CacheMetadataBytes: stats.MetadataBytes,
		CacheFreeBytes:     stats.FreeBytes,
	}

	if bs.journal != nil {
		summary, err := bs.journal.Summarize(ctx)
		if err != nil {
			// Stats stays useful without the journal half; the cache
			// numbers are the ones operators page on.
			bs.logger.Warn("journal summary failed", "error", err)
		} else {
			response.BuildsTotal = summary.Total
			response.BuildsBuilt = summary.Built
			response.BuildsFailed = summary.Failed
			response.LastBuildAt = summary.LastBuildAt
		}
	}

	return response, nil
}

// handlePing answers a liveness probe.
func (bs *BuildService) handlePing(ctx context.Context, raw []byte) (any, error) {
	return ipc.PingResponse{Version: version.Short()}, nil
}
