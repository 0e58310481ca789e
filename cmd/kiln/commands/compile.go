// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/toolchain"
)

type compileParams struct {
	configPath string
	out        string
	name       string
	jsonOut    bool
	verbose    bool
}

// compileOutput is the --json shape of a successful compile.
type compileOutput struct {
	Key       string    `json:"key"`
	Outcome   string    `json:"outcome"`
	Out       string    `json:"out"`
	Size      int64     `json:"size"`
	Methods   int       `json:"methods"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func compileCommand() *cli.Command {
	var params compileParams

	return &cli.Command{
		Name:    "compile",
		Summary: "Compile contract source into a cached artifact",
		Usage:   "kiln compile [file] [flags]",
		Description: `Compile a contract in-process against the local configuration.

Reads source from the named file, or from stdin when no file is given
(or file is "-"). The compiled artifact is written to <name>.wasm in
the current directory unless --out says otherwise.

Artifacts are identified by the content key of the normalized source,
so recompiling unchanged source is served from the cache without
running the toolchain. The printed outcome says which path the request
took: built, attached, cached, or backfilled.`,
		Examples: []cli.Example{
			{
				Description: "Compile a contract",
				Command:     "kiln compile counter.rs",
			},
			{
				Description: "Compile to an explicit output path",
				Command:     "kiln compile counter.rs -o build/counter.wasm",
			},
			{
				Description: "Compile from stdin with a contract name",
				Command:     "cat counter.rs | kiln compile --name counter",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("compile", pflag.ContinueOnError)
			flagSet.StringVar(&params.configPath, "config", "", "path to the kiln config file (default: KILN_CONFIG, then built-in defaults)")
			flagSet.StringVarP(&params.out, "out", "o", "", "output path for the compiled artifact (default: <name>.wasm)")
			flagSet.StringVar(&params.name, "name", "", "contract name for logs and the build journal (default: file base name)")
			flagSet.BoolVar(&params.jsonOut, "json", false, "print the result as JSON")
			flagSet.BoolVar(&params.verbose, "verbose", false, "log engine activity")
			return flagSet
		},
		Run: func(args []string) error {
			return runCompile(&params, args)
		},
	}
}

func runCompile(params *compileParams, args []string) error {
	name, source, err := readSource(args)
	if err != nil {
		return err
	}
	if params.name != "" {
		name = params.name
	}

	cfg, err := loadConfig(params.configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := cli.NewCommandLogger(params.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := engine.Compile(ctx, name, source)
	if err != nil {
		var toolErr *toolchain.Error
		if errors.As(err, &toolErr) {
			printToolchainFailure(toolErr)
			return &cli.ExitError{Code: 1}
		}
		return err
	}

	outPath := params.out
	if outPath == "" {
		outPath = name + ".wasm"
	}
	if err := os.WriteFile(outPath, result.Binary, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	if params.jsonOut {
		return cli.WriteJSON(compileOutput{
			Key:       result.Key.ID(),
			Outcome:   string(result.Outcome),
			Out:       outPath,
			Size:      int64(len(result.Binary)),
			Methods:   len(result.Description.Methods),
			CreatedAt: result.CreatedAt,
		})
	}

	fmt.Printf("%s %s %s (%s)\n",
		result.Key.ID(), result.Outcome, outPath, formatSize(int64(len(result.Binary))))
	return nil
}

// printToolchainFailure writes the build failure to stderr: rendered
// compiler diagnostics when the toolchain emitted structured output,
// the raw stderr tail otherwise, then a one-line verdict.
func printToolchainFailure(toolErr *toolchain.Error) {
	if len(toolErr.Diagnostics) > 0 {
		for _, diagnostic := range toolErr.Diagnostics {
			fmt.Fprintln(os.Stderr, diagnostic)
		}
	} else if stderrText := strings.TrimSpace(toolErr.Stderr); stderrText != "" {
		fmt.Fprintln(os.Stderr, stderrText)
	}

	switch {
	case toolErr.Timeout:
		fmt.Fprintln(os.Stderr, "build killed after exceeding the build timeout")
	case toolErr.MissingOutput:
		fmt.Fprintln(os.Stderr, "toolchain exited cleanly but produced no artifact")
	default:
		fmt.Fprintf(os.Stderr, "build failed (exit code %d)\n", toolErr.ExitCode)
	}
}
