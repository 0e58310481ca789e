// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package artifactcache

import "fmt"

// IOError is a durable-storage read or write failure. It always
// propagates to the caller: a silently missing entry would cause
// redundant rebuilds under load, and a silently failed commit would
// repeat the same work on every request.
type IOError struct {
	// Op is the failed operation: "create", "read", "write",
	// "rename", or "verify".
	Op string

	// Path is the cache file involved.
	Path string

	// Err is the underlying failure.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
