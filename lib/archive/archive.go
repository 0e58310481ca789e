// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive captures build workspaces as compressed tarballs.
// When workspace retention is enabled, the build coordinator archives
// each workspace before scrubbing it, so failed builds can be
// reproduced from exactly the tree the toolchain saw.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the compression applied to an archive.
type Compression uint8

const (
	// None writes a plain tarball. Used when the operator wants
	// archives inspectable with nothing but tar.
	None Compression = 0

	// LZ4 trades ratio for speed. Archiving happens on the build
	// path (after the toolchain, before workspace scrub), so cheap
	// compression keeps retention from slowing builds down.
	LZ4 Compression = 1

	// Zstd is the default: workspaces are mostly source text and
	// manifests, which zstd compresses well at modest CPU cost.
	Zstd Compression = 2
)

// String returns the human-readable name of a compression mode.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression mode from its string
// representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression mode: %q", name)
	}
}

// Ext returns the filename extension for archives in this mode,
// including the leading dot.
func (c Compression) Ext() string {
	switch c {
	case LZ4:
		return ".tar.lz4"
	case Zstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// Create archives the tree rooted at sourceDir into destPath using
// the given compression. The archive is written via a temp file and
// rename, so a crash never leaves a truncated archive at destPath.
// Entry names are relative to sourceDir. Irregular files (sockets,
// devices) are skipped; symlinks are preserved as links.
func Create(sourceDir, destPath string, compression Compression) (err error) {
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("archive: creating %s: %w", destDir, err)
	}

	tmpFile, err := os.CreateTemp(destDir, ".archive-*")
	if err != nil {
		return fmt.Errorf("archive: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := writeTar(tmpFile, sourceDir, compression); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("archive: closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("archive: renaming into place: %w", err)
	}

	success = true
	return nil
}

// writeTar streams sourceDir as a (possibly compressed) tarball to w.
func writeTar(w io.Writer, sourceDir string, compression Compression) error {
	var tarTarget io.Writer = w
	var closeCompressor func() error

	switch compression {
	case Zstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("archive: zstd encoder: %w", err)
		}
		tarTarget = encoder
		closeCompressor = encoder.Close
	case LZ4:
		encoder := lz4.NewWriter(w)
		tarTarget = encoder
		closeCompressor = encoder.Close
	}

	tarWriter := tar.NewWriter(tarTarget)
	walkErr := filepath.WalkDir(sourceDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		linkTarget := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tarWriter, file)
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("archive: walking %s: %w", sourceDir, walkErr)
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("archive: finalizing tar: %w", err)
	}
	if closeCompressor != nil {
		if err := closeCompressor(); err != nil {
			return fmt.Errorf("archive: finalizing %s stream: %w", compression, err)
		}
	}
	return nil
}
