// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete kiln CLI command tree.
//
// Most commands run against the local configuration: compile wires
// the build engine in-process, history and cache stats read the
// journal and artifact cache directly. The service group instead
// talks to a running build daemon over its Unix socket, sharing that
// daemon's cache and build slots.
package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/config"
	"github.com/kiln-build/kiln/lib/version"
)

// Root builds and returns the complete kiln CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "kiln",
		Description: `Kiln: contract compilation service.

Compile contract source into content-addressed artifacts, extract
contract interfaces without compiling, and inspect the build cache
and journal.`,
		Subcommands: []*cli.Command{
			compileCommand(),
			abiCommand(),
			keyCommand(),
			historyCommand(),
			cacheCommand(),
			serviceCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("kiln %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Compile a contract into a cached artifact",
				Command:     "kiln compile counter.rs",
			},
			{
				Description: "Show the interface a contract exposes",
				Command:     "kiln abi counter.rs",
			},
			{
				Description: "Print the content key a source file compiles under",
				Command:     "kiln key counter.rs",
			},
			{
				Description: "List recent builds from the journal",
				Command:     "kiln history",
			},
			{
				Description: "Show artifact cache size and free space",
				Command:     "kiln cache stats",
			},
			{
				Description: "Check that the build daemon is answering",
				Command:     "kiln service ping",
			},
		},
	}
}

// loadConfig resolves and validates the local configuration: the
// --config flag wins, then KILN_CONFIG, then built-in defaults.
func loadConfig(flagPath string) (*config.Config, error) {
	cfg, err := config.Resolve(flagPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// readSource loads contract source from the named file, or from
// stdin when no file is given or the file is "-". The returned name
// is the file's base name without extension, a caller-facing default
// for the contract name.
func readSource(args []string) (name, source string, err error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return "stdin", string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", err
	}
	base := filepath.Base(args[0])
	return strings.TrimSuffix(base, filepath.Ext(base)), string(data), nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
