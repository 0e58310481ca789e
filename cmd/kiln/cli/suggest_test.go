// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abi", 3},
		{"abi", "", 3},
		{"abi", "abi", 0},
		{"key", "kay", 1},     // substitution
		{"cache", "cach", 1},  // deletion
		{"abi", "abis", 1},    // insertion
		{"abi", "bai", 2},     // transposition (counted as 2 edits)
		{"kitten", "sitting", 3},
		{"compile", "comiple", 2},
		{"history", "histroy", 2},
		{"version", "vrsion", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"->"+test.b, func(t *testing.T) {
			got := levenshtein(test.a, test.b)
			if got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
		})
	}
}

func TestLevenshteinSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"compile", "comiple"},
		{"cache", "cach"},
		{"history", "histroy"},
	}

	for _, pair := range pairs {
		forward := levenshtein(pair[0], pair[1])
		reverse := levenshtein(pair[1], pair[0])
		if forward != reverse {
			t.Errorf("levenshtein(%q, %q) = %d, but reverse = %d",
				pair[0], pair[1], forward, reverse)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "compile"},
		{Name: "abi"},
		{Name: "key"},
		{Name: "history"},
		{Name: "cache"},
		{Name: "version"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"comiple", "compile"},  // transposition
		{"cahce", "cache"},      // transposition
		{"histroy", "history"},  // transposition
		{"vrsion", "version"},   // missing letter
		{"compiler", "compile"}, // extra letter
		{"ky", "key"},           // missing letter
		{"qqqq", ""},            // nothing close
		{"zzzzzzzzz", ""},       // nothing close
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got := suggestCommand(test.input, commands)
			if got != test.want {
				t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestSuggestFlag(t *testing.T) {
	makeFlagSet := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.String("config", "", "")
		flagSet.String("socket", "", "")
		flagSet.String("out", "", "")
		flagSet.Int("limit", 0, "")
		flagSet.Bool("json", false, "")
		return flagSet
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "close typo with double dash",
			args: []string{"--confg"},
			want: "--config",
		},
		{
			name: "close typo with single dash",
			args: []string{"-confg"},
			want: "--config",
		},
		{
			name: "socket typo",
			args: []string{"--socekt"},
			want: "--socket",
		},
		{
			name: "json typo",
			args: []string{"--josn"},
			want: "--json",
		},
		{
			name: "nothing close",
			args: []string{"--zzzzzzzzz"},
			want: "",
		},
		{
			name: "no flags",
			args: []string{"positional"},
			want: "",
		},
		{
			name: "flag with equals",
			args: []string{"--confg=/etc/kiln/config.yaml"},
			want: "--config",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := suggestFlag(test.args, makeFlagSet())
			if got != test.want {
				t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}
