// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"time"

	"github.com/kiln-build/kiln/lib/abi"
)

// Actions understood by the build daemon.
const (
	// ActionCompile compiles source and returns the artifact,
	// building it if the cache cannot serve it.
	ActionCompile = "compile"

	// ActionDescribe extracts the contract interface from source
	// without compiling anything.
	ActionDescribe = "describe"

	// ActionStats reports artifact cache and build journal state.
	ActionStats = "stats"

	// ActionPing is a liveness probe.
	ActionPing = "ping"
)

// CompileRequest asks the daemon for a compiled artifact.
type CompileRequest struct {
	Action string `cbor:"action"`

	// Name is the caller's label for the contract, used in logs and
	// the build journal. Informational: artifacts are identified by
	// source content alone, so the same source under two names
	// compiles once.
	Name string `cbor:"name,omitempty"`

	// Source is the contract source text.
	Source string `cbor:"source"`
}

// CompileResponse carries a compiled artifact. Response types use
// json tags because the CLI re-emits them as --json output; see the
// lib/codec package comment.
type CompileResponse struct {
	// Key is the short content key identifying the artifact.
	Key string `json:"key"`

	// Outcome says how the request was satisfied: "built",
	// "attached", "cached", or "backfilled".
	Outcome string `json:"outcome"`

	// Binary is the compiled artifact.
	Binary []byte `json:"binary,omitempty"`

	// Description is the contract's extracted interface.
	Description *abi.Description `json:"abi"`

	// CreatedAt is when the artifact was committed to the cache.
	// Zero for cache entries that predate their metadata side-car.
	CreatedAt time.Time `json:"created_at"`
}

// DescribeRequest asks for interface extraction only.
type DescribeRequest struct {
	Action string `cbor:"action"`

	// Source is the contract source text to scan.
	Source string `cbor:"source"`
}

// DescribeResponse carries the interface extracted from source,
// along with the content key the source would compile under.
type DescribeResponse struct {
	Key         string          `json:"key"`
	Description abi.Description `json:"abi"`
}

// StatsResponse reports the daemon's cache and journal state.
type StatsResponse struct {
	// Version is the daemon's build version.
	Version string `json:"version"`

	// CacheEntries is the number of committed artifacts.
	CacheEntries int `json:"cache_entries"`

	// CacheBinaryBytes and CacheMetadataBytes are summed file sizes
	// in the artifact cache.
	CacheBinaryBytes   int64 `json:"cache_binary_bytes"`
	CacheMetadataBytes int64 `json:"cache_metadata_bytes"`

	// CacheFreeBytes is the free space on the cache filesystem.
	CacheFreeBytes uint64 `json:"cache_free_bytes"`

	// Build journal counters. Zero when the daemon runs without a
	// journal.
	BuildsTotal  int64 `json:"builds_total"`
	BuildsBuilt  int64 `json:"builds_built"`
	BuildsFailed int64 `json:"builds_failed"`

	// LastBuildAt is the most recent build attempt, zero when none
	// have been recorded.
	LastBuildAt time.Time `json:"last_build_at"`
}

// PingResponse answers a liveness probe.
type PingResponse struct {
	Version string `json:"version"`
}
