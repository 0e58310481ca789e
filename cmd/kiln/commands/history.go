// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/clock"
	"github.com/kiln-build/kiln/lib/journal"
)

type historyParams struct {
	configPath string
	limit      int
	jsonOut    bool
}

// historyEntry is the --json shape of one journal row.
type historyEntry struct {
	At         time.Time `json:"at"`
	Key        string    `json:"key"`
	Name       string    `json:"name,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

func historyCommand() *cli.Command {
	var params historyParams

	return &cli.Command{
		Name:    "history",
		Summary: "Show recent builds from the journal",
		Usage:   "kiln history [key] [flags]",
		Description: `List recent build attempts recorded in the local build journal,
newest first. With a key argument, list only attempts for that
content key.

The journal records attempts that ran the toolchain; cache hits do
not appear here.`,
		Examples: []cli.Example{
			{
				Description: "Show the last twenty builds",
				Command:     "kiln history",
			},
			{
				Description: "Show every attempt for one contract",
				Command:     "kiln history a3f9b2c1e7d4 --limit 100",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.StringVar(&params.configPath, "config", "", "path to the kiln config file (default: KILN_CONFIG, then built-in defaults)")
			flagSet.IntVar(&params.limit, "limit", 20, "maximum entries to show")
			flagSet.BoolVar(&params.jsonOut, "json", false, "print entries as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			return runHistory(&params, args)
		},
	}
}

func runHistory(params *historyParams, args []string) error {
	cfg, err := loadConfig(params.configPath)
	if err != nil {
		return err
	}

	buildJournal, err := journal.Open(journal.Config{
		Path:   cfg.Paths.Journal,
		Clock:  clock.Real(),
		Logger: cli.NewCommandLogger(false),
	})
	if err != nil {
		return err
	}
	defer buildJournal.Close()

	ctx := context.Background()
	var entries []journal.Entry
	if len(args) > 0 {
		entries, err = buildJournal.History(ctx, args[0], params.limit)
	} else {
		entries, err = buildJournal.Recent(ctx, params.limit)
	}
	if err != nil {
		return err
	}

	if params.jsonOut {
		output := make([]historyEntry, len(entries))
		for i, entry := range entries {
			output[i] = historyEntry{
				At:         entry.At,
				Key:        entry.Key,
				Name:       entry.Name,
				Outcome:    string(entry.Outcome),
				Detail:     entry.Detail,
				DurationMS: entry.Duration.Milliseconds(),
			}
		}
		return cli.WriteJSON(output)
	}

	if len(entries) == 0 {
		fmt.Println("No builds recorded.")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "WHEN\tKEY\tNAME\tOUTCOME\tDURATION\tDETAIL\n")
	for _, entry := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			entry.At.Local().Format("2006-01-02 15:04:05"),
			entry.Key,
			entry.Name,
			entry.Outcome,
			entry.Duration.Round(time.Millisecond),
			truncate(entry.Detail, 60),
		)
	}
	writer.Flush()
	return nil
}

// truncate shortens s for table display. Journal details are compiler
// messages, so byte truncation is acceptable.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
