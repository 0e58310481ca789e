// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Kiln-build-service is the contract compilation daemon. It accepts
// contract source text over a Unix socket, compiles it with the
// configured toolchain, and answers with the binary artifact and the
// extracted interface description. Artifacts are cached by source
// content, so resubmitting the same contract never recompiles it, and
// concurrent submissions of the same source share one build.
//
// The daemon is a thin shim over [compile.Service]: the socket layer
// decodes requests, the compile service does everything else. Routing,
// authentication, and request shaping belong to whatever front end
// sits in front of this socket.
//
// # Socket API
//
// Each connection carries one CBOR request and one response:
//
//   - compile: source in, artifact + interface description out;
//     builds on a cache miss
//   - describe: interface extraction only, no toolchain involved
//   - stats: artifact cache footprint and build journal counters
//   - ping: liveness and version
//
// Request and response shapes are defined in lib/ipc.
//
// # Configuration
//
// Configuration comes from a YAML file (--config or KILN_CONFIG),
// KILN_* environment overrides, and built-in defaults, in that
// precedence; see lib/config. A .env file in the working directory is
// loaded first for local development.
//
// When a metrics address is configured, Prometheus metrics and a
// health probe are served over HTTP on /metrics and /healthz.
package main
