// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/artifactcache"
	"github.com/kiln-build/kiln/lib/clock"
)

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:    "cache",
		Summary: "Inspect the artifact cache",
		Subcommands: []*cli.Command{
			cacheStatsCommand(),
		},
	}
}

type cacheStatsParams struct {
	configPath string
	jsonOut    bool
}

// cacheStatsOutput is the --json shape of cache stats.
type cacheStatsOutput struct {
	Root          string `json:"root"`
	Entries       int    `json:"entries"`
	BinaryBytes   int64  `json:"binary_bytes"`
	MetadataBytes int64  `json:"metadata_bytes"`
	FreeBytes     uint64 `json:"free_bytes"`
}

func cacheStatsCommand() *cli.Command {
	var params cacheStatsParams

	return &cli.Command{
		Name:    "stats",
		Summary: "Show artifact cache size and free space",
		Usage:   "kiln cache stats [flags]",
		Description: `Report the local artifact cache footprint: committed entries, bytes
held by binaries and metadata side-cars, and free space remaining on
the cache filesystem.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			flagSet.StringVar(&params.configPath, "config", "", "path to the kiln config file (default: KILN_CONFIG, then built-in defaults)")
			flagSet.BoolVar(&params.jsonOut, "json", false, "print stats as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			return runCacheStats(&params)
		},
	}
}

func runCacheStats(params *cacheStatsParams) error {
	cfg, err := loadConfig(params.configPath)
	if err != nil {
		return err
	}

	store, err := artifactcache.Open(artifactcache.Config{
		Root:   cfg.Paths.Cache,
		Clock:  clock.Real(),
		Logger: cli.NewCommandLogger(false),
	})
	if err != nil {
		return err
	}

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	if params.jsonOut {
		return cli.WriteJSON(cacheStatsOutput{
			Root:          store.Root(),
			Entries:       stats.Entries,
			BinaryBytes:   stats.BinaryBytes,
			MetadataBytes: stats.MetadataBytes,
			FreeBytes:     stats.FreeBytes,
		})
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Root:\t%s\n", store.Root())
	fmt.Fprintf(writer, "Entries:\t%d\n", stats.Entries)
	fmt.Fprintf(writer, "Binaries:\t%s\n", formatSize(stats.BinaryBytes))
	fmt.Fprintf(writer, "Metadata:\t%s\n", formatSize(stats.MetadataBytes))
	fmt.Fprintf(writer, "Free space:\t%s\n", formatSize(int64(stats.FreeBytes)))
	writer.Flush()
	return nil
}
