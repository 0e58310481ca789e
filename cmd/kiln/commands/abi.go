// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/abi"
	"github.com/kiln-build/kiln/lib/contentkey"
)

type abiParams struct {
	jsonOut bool
}

func abiCommand() *cli.Command {
	var params abiParams

	return &cli.Command{
		Name:    "abi",
		Summary: "Extract the contract interface from source",
		Usage:   "kiln abi [file] [flags]",
		Description: `Scan contract source for dispatch annotations and print the extracted
interface: opcode-annotated methods with their inputs and return
types, and declared storage slots.

No toolchain runs. Extraction is a structural scan of the source text,
so it works on contracts that do not compile yet.

Output is a table when stdout is a terminal and JSON otherwise; --json
forces JSON.`,
		Examples: []cli.Example{
			{
				Description: "Show a contract's interface",
				Command:     "kiln abi counter.rs",
			},
			{
				Description: "Pipe the interface to a tool as JSON",
				Command:     "kiln abi counter.rs | jq .opcodes",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("abi", pflag.ContinueOnError)
			flagSet.BoolVar(&params.jsonOut, "json", false, "print the interface as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			return runABI(&params, args)
		},
	}
}

func runABI(params *abiParams, args []string) error {
	_, source, err := readSource(args)
	if err != nil {
		return err
	}

	description := abi.Extract(source)

	if params.jsonOut || !term.IsTerminal(int(os.Stdout.Fd())) {
		return cli.WriteJSON(description)
	}

	key := contentkey.FromSource(source)
	fmt.Printf("%s (key %s)\n\n", description.Name, key.ID())

	if len(description.Methods) == 0 {
		fmt.Println("No dispatch methods found.")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(writer, "OPCODE\tMETHOD\tINPUTS\tRETURNS\n")
		for _, method := range description.Methods {
			fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n",
				method.Opcode,
				method.Name,
				formatInputs(method.Inputs),
				formatOutputs(method.Outputs),
			)
		}
		writer.Flush()
	}

	if len(description.Storage) > 0 {
		fmt.Println()
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(writer, "STORAGE KEY\tTYPE\n")
		for _, slot := range description.Storage {
			fmt.Fprintf(writer, "%s\t%s\n", slot.Key, slot.Type)
		}
		writer.Flush()
	}
	return nil
}

// formatInputs renders method inputs as "name type, name type".
func formatInputs(inputs []abi.Param) string {
	if len(inputs) == 0 {
		return "-"
	}
	parts := make([]string, len(inputs))
	for i, input := range inputs {
		parts[i] = input.Name + " " + input.Type
	}
	return strings.Join(parts, ", ")
}

func formatOutputs(outputs []string) string {
	if len(outputs) == 0 {
		return "-"
	}
	return strings.Join(outputs, ", ")
}
