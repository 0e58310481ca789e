// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package compile turns contract source into cached build artifacts.
//
// The [Service] ties the rest of the system together. A content key
// names the artifact, the artifact cache decides whether a build is
// needed at all, a singleflight group collapses concurrent requests
// for the same key into one build, and a counting semaphore bounds
// how many toolchain processes run at once. Workspaces come from a
// pool so directory setup stays off the request path.
//
// A compile request resolves through a fixed ladder:
//
//  1. Cache lookup. A committed artifact is returned immediately. A
//     hit whose interface side-car is missing or unreadable is
//     backfilled from the submitted source first.
//  2. Flight attach. If the same key is already building, the request
//     waits for that build instead of starting another.
//  3. Build. The source is materialized into a pooled workspace, the
//     toolchain runs while holding a build slot, and the artifact is
//     committed to the cache before any caller sees it.
//
// Builds run on the service's own context, not the caller's: a
// caller that stops waiting abandons the result, not the build, so
// the other waiters and every future request still benefit from the
// work. Failures commit nothing; every waiter on a failed flight
// receives the same error, and the next request for that key starts
// fresh.
//
// Build failures surface as [toolchain.Error] values and cache
// failures as [artifactcache.IOError] values, so callers can tell a
// broken contract from a broken host.
package compile
