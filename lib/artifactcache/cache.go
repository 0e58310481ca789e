// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifactcache persists compiled contract artifacts keyed by
// content. Each entry is a pair of flat files in the cache root:
// "<key>.bin" holds the compiled binary and "<key>.json" holds the
// metadata side-car with the extracted interface description.
//
// The cache is write-once per key: a key's binary is a pure function
// of the source content, so a commit never changes an existing
// entry's meaning, and concurrent commits of the same key write
// identical bytes. Both files are written via temp-file-and-rename so
// a reader never observes a partial entry, and the binary lands
// before the side-car so the side-car never references a binary that
// is not yet durable. An entry whose side-car is missing or unreadable
// is still served; the caller recomputes the description and calls
// [Store.WriteDescription] to repair it.
package artifactcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"

	"github.com/kiln-build/kiln/lib/abi"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/contentkey"
)

// metadataFormat is the side-car document version. Bump when the
// document shape changes incompatibly.
const metadataFormat = 1

const (
	binarySuffix   = ".bin"
	metadataSuffix = ".json"
)

// Config holds the parameters for opening a store.
type Config struct {
	// Root is the cache directory. Created if it does not exist.
	Root string

	// Clock provides commit timestamps. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives warnings about damaged side-cars. Defaults to
	// a discard logger.
	Logger *slog.Logger
}

// Store is a durable artifact cache rooted at one directory. Safe for
// concurrent use.
type Store struct {
	root   string
	clock  clock.Clock
	logger *slog.Logger
}

// Record is one committed artifact.
type Record struct {
	// Key is the content key the artifact is stored under.
	Key contentkey.Key

	// Binary is the compiled artifact.
	Binary []byte

	// BinaryDigest is the sha256 digest of Binary, from the
	// side-car when present, recomputed otherwise.
	BinaryDigest digest.Digest

	// SourceDigest is the full hex digest of the normalized source,
	// empty when the side-car was missing.
	SourceDigest string

	// CreatedAt is the commit time, zero when the side-car was
	// missing.
	CreatedAt time.Time

	// Description is the extracted interface, nil when the side-car
	// was missing or unreadable. A nil Description is an invitation
	// to backfill, never an error.
	Description *abi.Description
}

// metadata is the on-disk side-car document. Field names are the
// durable contract; see the package comment in lib/codec for the
// json-tag convention.
type metadata struct {
	Format       int              `json:"format"`
	Key          string           `json:"key"`
	SourceDigest string           `json:"source_digest,omitempty"`
	BinaryDigest string           `json:"binary_digest"`
	BinarySize   int64            `json:"binary_size"`
	CreatedAt    time.Time        `json:"created_at"`
	ABI          *abi.Description `json:"abi"`
}

// Open opens (creating if necessary) the cache rooted at cfg.Root.
func Open(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("artifactcache: Root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, &IOError{Op: "create", Path: cfg.Root, Err: err}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{root: cfg.Root, clock: clk, logger: logger}, nil
}

// Root returns the cache directory.
func (s *Store) Root() string {
	return s.root
}

// Lookup returns the committed record for key, or found == false on a
// miss. A present binary with a missing or damaged side-car returns a
// record with a nil Description; the binary digest is recomputed so
// the caller still gets an integrity reference.
func (s *Store) Lookup(key contentkey.Key) (record *Record, found bool, err error) {
	binaryPath := s.binaryPath(key)
	binary, err := os.ReadFile(binaryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &IOError{Op: "read", Path: binaryPath, Err: err}
	}

	record = &Record{
		Key:          key,
		Binary:       binary,
		BinaryDigest: digest.FromBytes(binary),
	}

	metadataPath := s.metadataPath(key)
	raw, err := os.ReadFile(metadataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return record, true, nil
	}
	if err != nil {
		return nil, false, &IOError{Op: "read", Path: metadataPath, Err: err}
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		// A damaged side-car is repairable; the binary is not in
		// question. Serve the record without a description.
		s.logger.Warn("damaged metadata side-car", "key", key, "error", err)
		return record, true, nil
	}

	if meta.BinaryDigest != record.BinaryDigest.String() {
		// The side-car describes different bytes than the binary
		// on disk. This only happens when the entry files were
		// damaged independently, and serving either half silently
		// would hand the caller an artifact nothing vouches for.
		return nil, false, &IOError{
			Op:   "verify",
			Path: binaryPath,
			Err:  fmt.Errorf("binary digest %s does not match side-car %s", record.BinaryDigest, meta.BinaryDigest),
		}
	}

	record.SourceDigest = meta.SourceDigest
	record.CreatedAt = meta.CreatedAt
	record.Description = meta.ABI
	return record, true, nil
}

// Commit durably stores a freshly built artifact and returns its
// record. The binary file is renamed into place before the side-car,
// so a crash between the two renames leaves a serveable,
// backfillable entry rather than a side-car describing nothing.
func (s *Store) Commit(key contentkey.Key, binary []byte, sourceDigest string, description *abi.Description) (*Record, error) {
	if err := s.writeFileAtomic(s.binaryPath(key), binary); err != nil {
		return nil, err
	}

	binaryDigest := digest.FromBytes(binary)
	createdAt := s.clock.Now().UTC()
	if err := s.writeMetadata(key, metadata{
		Format:       metadataFormat,
		Key:          key.ID(),
		SourceDigest: sourceDigest,
		BinaryDigest: binaryDigest.String(),
		BinarySize:   int64(len(binary)),
		CreatedAt:    createdAt,
		ABI:          description,
	}); err != nil {
		return nil, err
	}

	return &Record{
		Key:          key,
		Binary:       binary,
		BinaryDigest: binaryDigest,
		SourceDigest: sourceDigest,
		CreatedAt:    createdAt,
		Description:  description,
	}, nil
}

// WriteDescription writes (or rewrites) the metadata side-car for an
// artifact already in the cache. Used to backfill entries whose
// side-car was lost. binary must be the cached binary for key.
func (s *Store) WriteDescription(key contentkey.Key, binary []byte, sourceDigest string, description *abi.Description) error {
	return s.writeMetadata(key, metadata{
		Format:       metadataFormat,
		Key:          key.ID(),
		SourceDigest: sourceDigest,
		BinaryDigest: digest.FromBytes(binary).String(),
		BinarySize:   int64(len(binary)),
		CreatedAt:    s.clock.Now().UTC(),
		ABI:          description,
	})
}

// Stats describes the cache's disk footprint.
type Stats struct {
	// Entries is the number of committed binaries.
	Entries int

	// BinaryBytes and MetadataBytes are the summed file sizes.
	BinaryBytes   int64
	MetadataBytes int64

	// FreeBytes is the free space remaining on the cache
	// filesystem.
	FreeBytes uint64
}

// Stats walks the cache root and returns its footprint.
func (s *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return Stats{}, &IOError{Op: "read", Path: s.root, Err: err}
	}

	var stats Stats
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		isBinary := strings.HasSuffix(name, binarySuffix)
		isMetadata := strings.HasSuffix(name, metadataSuffix)
		if !isBinary && !isMetadata {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if isBinary {
			stats.Entries++
			stats.BinaryBytes += info.Size()
		} else {
			stats.MetadataBytes += info.Size()
		}
	}

	var fsStat unix.Statfs_t
	if err := unix.Statfs(s.root, &fsStat); err == nil {
		stats.FreeBytes = fsStat.Bavail * uint64(fsStat.Bsize)
	}

	return stats, nil
}

func (s *Store) binaryPath(key contentkey.Key) string {
	return filepath.Join(s.root, key.ID()+binarySuffix)
}

func (s *Store) metadataPath(key contentkey.Key) string {
	return filepath.Join(s.root, key.ID()+metadataSuffix)
}

func (s *Store) writeMetadata(key contentkey.Key, meta metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("artifactcache: encoding metadata for %s: %w", key, err)
	}
	return s.writeFileAtomic(s.metadataPath(key), append(data, '\n'))
}

// writeFileAtomic writes data to path via a temp file in the cache
// root and a rename, so concurrent readers never observe a partial
// file. The temp file is removed on any failure.
func (s *Store) writeFileAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	success = true
	return nil
}
