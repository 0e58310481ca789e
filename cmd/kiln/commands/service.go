// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/ipc"
	"github.com/kiln-build/kiln/lib/service"
)

// serviceConnection manages the --socket and --config flags shared by
// the service subcommands. The socket path resolves in order:
// --socket, KILN_SOCKET, the configured listen socket.
type serviceConnection struct {
	socketPath string
	configPath string
}

func (c *serviceConnection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socketPath, "socket", os.Getenv("KILN_SOCKET"), "build service socket path (default: from config)")
	flagSet.StringVar(&c.configPath, "config", "", "path to the kiln config file (default: KILN_CONFIG, then built-in defaults)")
}

func (c *serviceConnection) client() (*service.Client, error) {
	socketPath := c.socketPath
	if socketPath == "" {
		cfg, err := loadConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		socketPath = cfg.Listen.Socket
	}
	return service.NewClient(socketPath), nil
}

func serviceCommand() *cli.Command {
	return &cli.Command{
		Name:    "service",
		Summary: "Talk to a running build service",
		Description: `Send requests to the build service daemon over its Unix socket.

Unlike the plain compile command, which runs the engine in-process,
these commands share the daemon's cache and build slots, so concurrent
callers submitting the same source join a single build.

The socket path comes from --socket, the KILN_SOCKET environment
variable, or the local configuration, in that order.`,
		Subcommands: []*cli.Command{
			servicePingCommand(),
			serviceStatsCommand(),
			serviceCompileCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Check the daemon is up",
				Command:     "kiln service ping",
			},
			{
				Description: "Compile through the daemon",
				Command:     "kiln service compile counter.rs",
			},
			{
				Description: "Inspect the daemon's cache and journal",
				Command:     "kiln service stats",
			},
		},
	}
}

func servicePingCommand() *cli.Command {
	var connection serviceConnection
	var jsonOut bool

	return &cli.Command{
		Name:    "ping",
		Summary: "Check that the build service is answering",
		Usage:   "kiln service ping [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "print the response as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.client()
			if err != nil {
				return err
			}

			var response ipc.PingResponse
			if err := client.Call(context.Background(), ipc.ActionPing, nil, &response); err != nil {
				return err
			}

			if jsonOut {
				return cli.WriteJSON(response)
			}
			fmt.Printf("ok: kiln-build-service %s\n", response.Version)
			return nil
		},
	}
}

func serviceStatsCommand() *cli.Command {
	var connection serviceConnection
	var jsonOut bool

	return &cli.Command{
		Name:    "stats",
		Summary: "Show the daemon's cache and journal state",
		Usage:   "kiln service stats [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.BoolVar(&jsonOut, "json", false, "print stats as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			client, err := connection.client()
			if err != nil {
				return err
			}

			var response ipc.StatsResponse
			if err := client.Call(context.Background(), ipc.ActionStats, nil, &response); err != nil {
				return err
			}

			if jsonOut {
				return cli.WriteJSON(response)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "Version:\t%s\n", response.Version)
			fmt.Fprintf(writer, "Cache entries:\t%d\n", response.CacheEntries)
			fmt.Fprintf(writer, "Cache binaries:\t%s\n", formatSize(response.CacheBinaryBytes))
			fmt.Fprintf(writer, "Cache metadata:\t%s\n", formatSize(response.CacheMetadataBytes))
			fmt.Fprintf(writer, "Cache free:\t%s\n", formatSize(int64(response.CacheFreeBytes)))
			fmt.Fprintf(writer, "Builds:\t%d (%d built, %d failed)\n",
				response.BuildsTotal, response.BuildsBuilt, response.BuildsFailed)
			if !response.LastBuildAt.IsZero() {
				fmt.Fprintf(writer, "Last build:\t%s\n",
					response.LastBuildAt.Local().Format("2006-01-02 15:04:05"))
			}
			writer.Flush()
			return nil
		},
	}
}

func serviceCompileCommand() *cli.Command {
	var connection serviceConnection
	var params struct {
		out     string
		name    string
		jsonOut bool
	}

	return &cli.Command{
		Name:    "compile",
		Summary: "Compile a contract through the build service",
		Usage:   "kiln service compile [file] [flags]",
		Description: `Submit contract source to the build daemon and write the returned
artifact. Reads from the named file, or from stdin when no file is
given (or file is "-").

The daemon deduplicates concurrent submissions of the same source
into a single toolchain run, so this is the right path when several
callers may compile the same contract at once.`,
		Examples: []cli.Example{
			{
				Description: "Compile through the daemon",
				Command:     "kiln service compile counter.rs",
			},
			{
				Description: "Compile against an explicit socket",
				Command:     "kiln service compile counter.rs --socket /run/kiln/build.sock",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("compile", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.StringVarP(&params.out, "out", "o", "", "output path for the compiled artifact (default: <name>.wasm)")
			flagSet.StringVar(&params.name, "name", "", "contract name for the daemon's logs and journal (default: file base name)")
			flagSet.BoolVar(&params.jsonOut, "json", false, "print the result as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			name, source, err := readSource(args)
			if err != nil {
				return err
			}
			if params.name != "" {
				name = params.name
			}

			client, err := connection.client()
			if err != nil {
				return err
			}

			// Builds can take minutes; let Ctrl-C abandon the wait.
			// The daemon finishes the build and caches it regardless.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			request := map[string]any{"name": name, "source": source}
			var response ipc.CompileResponse
			if err := client.Call(ctx, ipc.ActionCompile, request, &response); err != nil {
				var serviceErr *service.ServiceError
				if errors.As(err, &serviceErr) {
					fmt.Fprintln(os.Stderr, serviceErr.Message)
					return &cli.ExitError{Code: 1}
				}
				return err
			}

			outPath := params.out
			if outPath == "" {
				outPath = name + ".wasm"
			}
			if err := os.WriteFile(outPath, response.Binary, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}

			if params.jsonOut {
				methods := 0
				if response.Description != nil {
					methods = len(response.Description.Methods)
				}
				return cli.WriteJSON(compileOutput{
					Key:       response.Key,
					Outcome:   response.Outcome,
					Out:       outPath,
					Size:      int64(len(response.Binary)),
					Methods:   methods,
					CreatedAt: response.CreatedAt,
				})
			}

			fmt.Printf("%s %s %s (%s)\n",
				response.Key, response.Outcome, outPath, formatSize(int64(len(response.Binary))))
			return nil
		},
	}
}
