// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for kiln
// components.
//
// Configuration is loaded from a single file specified by either the
// KILN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). [Resolve] implements the precedence the daemon
// uses: explicit flag, then KILN_CONFIG, then built-in defaults with
// no file at all. There is no ~/.config discovery and no automatic
// file search.
//
// The configuration file supports environment-specific sections
// (development, production) that override base values when
// [Config].Environment matches.
//
// After the file is merged, individual fields tagged with env struct
// tags are overridden from KILN_* environment variables (KILN_ROOT,
// KILN_SOCKET, KILN_CONCURRENCY, ...). Variable expansion is performed
// on path fields last: ${HOME}, ${KILN_ROOT}, and ${VAR:-default}
// patterns are expanded.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Listen, Build, Janitor
//   - [Default] -- returns a Config with development defaults
//   - [Load], [LoadFile], [Resolve] -- the entry points for loading
package config
