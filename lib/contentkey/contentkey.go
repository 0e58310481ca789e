// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentkey derives the cache identity of contract source
// text. The identity is a keyed BLAKE3 digest of the normalized
// source, so two submissions that differ only in line endings,
// trailing whitespace, or blank-line runs map to the same key and
// share one cache entry. The contract name never participates in the
// key: naming is presentation, identity is content.
package contentkey

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Key is a 32-byte BLAKE3 digest of normalized source text.
type Key [32]byte

// IDLength is the length in hex characters of the short identifier
// returned by [Key.ID].
const IDLength = 12

// sourceDomainKey is the 32-byte key for BLAKE3 keyed hashing of
// source text. A fixed constant — changing it invalidates every
// existing cache entry. The byte values are the ASCII encoding of the
// domain name, zero-padded to 32 bytes, so the key is inspectable in
// hex dumps without sacrificing any cryptographic property.
var sourceDomainKey = [32]byte{
	'k', 'i', 'l', 'n', '.', 's', 'o', 'u', 'r', 'c', 'e', '.',
	'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// FromSource computes the content key for the given source text. The
// text is normalized first, so formatting-only edits do not change
// the key.
func FromSource(source string) Key {
	hasher, err := blake3.NewKeyed(sourceDomainKey[:])
	if err != nil {
		panic("contentkey: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(Normalize(source)))

	var key Key
	copy(key[:], hasher.Sum(nil))
	return key
}

// Normalize returns the canonical form of source text used for
// hashing:
//
//   - CRLF and bare CR line endings become LF
//   - trailing spaces and tabs are stripped from each line
//   - runs of two or more blank lines collapse to one
//   - leading and trailing blank lines are removed
//
// The result carries no trailing newline. Normalization is used only
// for identity; the toolchain always compiles the text as submitted.
func Normalize(source string) string {
	text := strings.ReplaceAll(source, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	normalized := make([]string, 0, len(lines))
	pendingBlank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			pendingBlank = true
			continue
		}
		// A blank run between two content lines survives as a
		// single blank line. Runs before the first content line
		// vanish entirely.
		if pendingBlank && len(normalized) > 0 {
			normalized = append(normalized, "")
		}
		pendingBlank = false
		normalized = append(normalized, line)
	}
	return strings.Join(normalized, "\n")
}

// ID returns the short identifier for the key: the first twelve hex
// characters of the digest. This is the name used for cache files,
// build directories, dedup flights, and log lines. At twelve hex
// characters (48 bits) the birthday bound stays comfortable for any
// plausible number of distinct contracts on one host.
func (k Key) ID() string {
	return hex.EncodeToString(k[:6])
}

// Digest returns the full hex-encoded digest. Stored in cache
// metadata for auditability; everything operational uses [Key.ID].
func (k Key) Digest() string {
	return hex.EncodeToString(k[:])
}

// String returns the short identifier. Keys format as their ID in
// logs and errors.
func (k Key) String() string {
	return k.ID()
}
