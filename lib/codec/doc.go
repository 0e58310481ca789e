// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// the build service.
//
// Kiln uses two serialization formats with a clear boundary:
//
//   - JSON for durable, operator-visible data: artifact metadata
//     side-car files, toolchain build profiles, CLI --json output.
//   - CBOR for the service socket protocol between the CLI and the
//     build daemon.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Same logical data always produces identical bytes, which
// keeps protocol tests exact.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: the type only ever crosses the service socket.
//     Examples: request envelopes, the response wrapper.
//   - `json` tag: the type serializes as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     for both formats. Examples: abi.Description, which is stored
//     in the metadata side-car (JSON) and returned over the socket
//     (CBOR).
//
// Never use both `cbor` and `json` tags on the same field.
package codec
