// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/contentkey"
)

type keyParams struct {
	digest  bool
	jsonOut bool
}

type keyOutput struct {
	Key    string `json:"key"`
	Digest string `json:"digest"`
}

func keyCommand() *cli.Command {
	var params keyParams

	return &cli.Command{
		Name:    "key",
		Summary: "Print the content key for contract source",
		Usage:   "kiln key [file] [flags]",
		Description: `Compute the content key the build service files this source under.

The key hashes the normalized source text, so formatting-only edits
(trailing whitespace, CRLF line endings) do not change it. Useful for
checking whether an edit will invalidate a cached artifact.`,
		Examples: []cli.Example{
			{
				Description: "Print the short key",
				Command:     "kiln key counter.rs",
			},
			{
				Description: "Print the full digest",
				Command:     "kiln key counter.rs --digest",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("key", pflag.ContinueOnError)
			flagSet.BoolVar(&params.digest, "digest", false, "print the full hex digest instead of the short key")
			flagSet.BoolVar(&params.jsonOut, "json", false, "print key and digest as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			return runKey(&params, args)
		},
	}
}

func runKey(params *keyParams, args []string) error {
	_, source, err := readSource(args)
	if err != nil {
		return err
	}
	key := contentkey.FromSource(source)

	if params.jsonOut {
		return cli.WriteJSON(keyOutput{Key: key.ID(), Digest: key.Digest()})
	}
	if params.digest {
		fmt.Println(key.Digest())
		return nil
	}
	fmt.Println(key.ID())
	return nil
}
