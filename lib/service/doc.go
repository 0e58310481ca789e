// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared scaffolding of the build
// daemon: the standard logger, a Unix socket server speaking a CBOR
// request-response protocol, the matching client, and an HTTP server
// for metrics and health endpoints.
//
// The daemon composes these in its own main() rather than
// subclassing a framework. The package provides building blocks, not
// a runtime.
//
// # Authentication
//
// The socket protocol carries no caller identity. Access control is
// the socket file itself: the daemon creates it inside a directory
// only the operator can reach, and anyone who can connect may
// compile. The envelope is an extensible CBOR map, so authenticated
// fields can be added without breaking existing clients.
package service
