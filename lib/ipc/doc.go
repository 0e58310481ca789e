// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the build
// daemon's Unix socket protocol. Both cmd/kiln-build-service and
// cmd/kiln import this package so the wire types are defined once
// rather than mirrored.
//
// Every request carries an "action" field naming the operation. The
// daemon routes on that field and decodes the action's request type
// from the same CBOR document, so a request is self-describing.
// Responses travel inside the lib/service envelope with these types
// in its data field.
package ipc
