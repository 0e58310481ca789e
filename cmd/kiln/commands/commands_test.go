// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiln-build/kiln/cmd/kiln/cli"
	"github.com/kiln-build/kiln/lib/abi"
)

const counterSource = `
pub struct Counter {
    count: u64,
}

impl Counter {
    pub fn new() -> Self {
        Self { count: StorageValue::new("counter.count") }
    }

    #[opcode(0)]
    #[returns(u64)]
    pub fn get(&self) -> u64 {
        self.count
    }

    #[opcode(1)]
    #[returns(u64)]
    pub fn increment(&mut self, amount: u64) -> u64 {
        self.count += amount;
        self.count
    }
}
`

func TestRootCommandTree(t *testing.T) {
	root := Root()
	if root.Name != "kiln" {
		t.Fatalf("root name = %q, want kiln", root.Name)
	}

	var walk func(t *testing.T, command *cli.Command, path string)
	walk = func(t *testing.T, command *cli.Command, path string) {
		seen := make(map[string]bool)
		for _, sub := range command.Subcommands {
			if sub.Name == "" {
				t.Errorf("%s: subcommand with empty name", path)
				continue
			}
			if seen[sub.Name] {
				t.Errorf("%s: duplicate subcommand %q", path, sub.Name)
			}
			seen[sub.Name] = true

			if sub.Summary == "" {
				t.Errorf("%s %s: missing summary", path, sub.Name)
			}
			if sub.Run == nil && len(sub.Subcommands) == 0 {
				t.Errorf("%s %s: neither Run nor subcommands", path, sub.Name)
			}
			if sub.Usage != "" && !strings.HasPrefix(sub.Usage, path+" "+sub.Name) {
				t.Errorf("%s %s: usage %q does not match command path", path, sub.Name, sub.Usage)
			}
			walk(t, sub, path+" "+sub.Name)
		}
	}
	walk(t, root, "kiln")
}

func TestRootExpectedCommands(t *testing.T) {
	root := Root()
	names := make(map[string]bool)
	for _, sub := range root.Subcommands {
		names[sub.Name] = true
	}

	for _, want := range []string{"compile", "abi", "key", "history", "cache", "service", "version"} {
		if !names[want] {
			t.Errorf("root tree missing %q command", want)
		}
	}
}

func TestReadSourceFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.rs")
	if err := os.WriteFile(path, []byte(counterSource), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	name, source, err := readSource([]string{path})
	if err != nil {
		t.Fatalf("readSource: %v", err)
	}
	if name != "counter" {
		t.Errorf("name = %q, want counter", name)
	}
	if source != counterSource {
		t.Errorf("source does not round-trip")
	}
}

func TestReadSourceMissingFile(t *testing.T) {
	_, _, err := readSource([]string{filepath.Join(t.TempDir(), "missing.rs")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadSourceFromStdin(t *testing.T) {
	original := os.Stdin
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdin = reader
	defer func() { os.Stdin = original }()

	go func() {
		writer.WriteString("contract body")
		writer.Close()
	}()

	name, source, err := readSource(nil)
	if err != nil {
		t.Fatalf("readSource: %v", err)
	}
	if name != "stdin" {
		t.Errorf("name = %q, want stdin", name)
	}
	if source != "contract body" {
		t.Errorf("source = %q, want contract body", source)
	}
}

func TestRunKeyOutputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.rs")
	if err := os.WriteFile(path, []byte(counterSource), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	short := strings.TrimSpace(captureStdout(t, func() {
		if err := runKey(&keyParams{}, []string{path}); err != nil {
			t.Errorf("runKey: %v", err)
		}
	}))
	if len(short) != 12 {
		t.Errorf("short key = %q, want 12 hex chars", short)
	}

	full := strings.TrimSpace(captureStdout(t, func() {
		if err := runKey(&keyParams{digest: true}, []string{path}); err != nil {
			t.Errorf("runKey --digest: %v", err)
		}
	}))
	if len(full) != 64 {
		t.Errorf("digest = %q, want 64 hex chars", full)
	}
	if !strings.HasPrefix(full, short) {
		t.Errorf("digest %q does not start with short key %q", full, short)
	}

	var output keyOutput
	jsonText := captureStdout(t, func() {
		if err := runKey(&keyParams{jsonOut: true}, []string{path}); err != nil {
			t.Errorf("runKey --json: %v", err)
		}
	})
	if err := json.Unmarshal([]byte(jsonText), &output); err != nil {
		t.Fatalf("parsing JSON output: %v", err)
	}
	if output.Key != short || output.Digest != full {
		t.Errorf("JSON output = %+v, want key %s digest %s", output, short, full)
	}
}

func TestRunABIEmitsJSONWhenPiped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.rs")
	if err := os.WriteFile(path, []byte(counterSource), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	// captureStdout replaces stdout with a pipe, which is not a
	// terminal, so the command should pick JSON without --json.
	output := captureStdout(t, func() {
		if err := runABI(&abiParams{}, []string{path}); err != nil {
			t.Errorf("runABI: %v", err)
		}
	})

	var description abi.Description
	if err := json.Unmarshal([]byte(output), &description); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if description.Name != "Counter" {
		t.Errorf("contract name = %q, want Counter", description.Name)
	}
	if len(description.Methods) != 2 {
		t.Fatalf("got %d methods, want 2", len(description.Methods))
	}
	if description.Opcodes["increment"] != 1 {
		t.Errorf("increment opcode = %d, want 1", description.Opcodes["increment"])
	}
	if len(description.Storage) != 1 || description.Storage[0].Key != "counter.count" {
		t.Errorf("storage = %+v, want one counter.count slot", description.Storage)
	}
}

func TestRunHistoryEmptyJournal(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	output := captureStdout(t, func() {
		if err := runHistory(&historyParams{configPath: configPath, limit: 20}, nil); err != nil {
			t.Errorf("runHistory: %v", err)
		}
	})
	if !strings.Contains(output, "No builds recorded.") {
		t.Errorf("output = %q, want empty-journal notice", output)
	}
}

func TestRunHistoryEmptyJournalJSON(t *testing.T) {
	configPath, _ := writeTestConfig(t)

	output := captureStdout(t, func() {
		err := runHistory(&historyParams{configPath: configPath, limit: 20, jsonOut: true}, nil)
		if err != nil {
			t.Errorf("runHistory --json: %v", err)
		}
	})

	var entries []historyEntry
	if err := json.Unmarshal([]byte(output), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
	// Nil-slice normalization: an empty journal must emit [], not null.
	if strings.TrimSpace(output) == "null" {
		t.Error("JSON output is null, want []")
	}
}

func TestRunCacheStatsEmpty(t *testing.T) {
	configPath, root := writeTestConfig(t)

	output := captureStdout(t, func() {
		if err := runCacheStats(&cacheStatsParams{configPath: configPath, jsonOut: true}); err != nil {
			t.Errorf("runCacheStats: %v", err)
		}
	})

	var stats cacheStatsOutput
	if err := json.Unmarshal([]byte(output), &stats); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if stats.Entries != 0 {
		t.Errorf("entries = %d, want 0", stats.Entries)
	}
	if stats.Root != filepath.Join(root, "cache") {
		t.Errorf("root = %q, want %q", stats.Root, filepath.Join(root, "cache"))
	}
	if stats.FreeBytes == 0 {
		t.Error("free bytes = 0, want the filesystem's free space")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1 << 10, "1.0 KB"},
		{4608, "4.5 KB"},
		{1 << 20, "1.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, test := range tests {
		if got := formatSize(test.bytes); got != test.want {
			t.Errorf("formatSize(%d) = %q, want %q", test.bytes, got, test.want)
		}
	}
}

func TestFormatInputs(t *testing.T) {
	if got := formatInputs(nil); got != "-" {
		t.Errorf("formatInputs(nil) = %q, want -", got)
	}
	inputs := []abi.Param{{Name: "amount", Type: "u64"}, {Name: "to", Type: "Address"}}
	if got := formatInputs(inputs); got != "amount u64, to Address" {
		t.Errorf("formatInputs = %q", got)
	}
}

func TestFormatOutputs(t *testing.T) {
	if got := formatOutputs(nil); got != "-" {
		t.Errorf("formatOutputs(nil) = %q, want -", got)
	}
	if got := formatOutputs([]string{"u64", "bool"}); got != "u64, bool" {
		t.Errorf("formatOutputs = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 60); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 100)
	got := truncate(long, 60)
	if len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long = %q (len %d), want 60 chars ending in ...", got, len(got))
	}
}

// --- Helpers ---

// writeTestConfig writes a minimal config rooting all kiln paths in a
// temp directory and returns the config path and root.
func writeTestConfig(t *testing.T) (configPath, root string) {
	t.Helper()

	root = t.TempDir()
	configPath = filepath.Join(root, "kiln.yaml")
	content := fmt.Sprintf("paths:\n  root: %s\nlisten:\n  metrics: \"\"\n", root)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath, root
}

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = writer

	fn()

	writer.Close()
	os.Stdout = original

	var buffer bytes.Buffer
	io.Copy(&buffer, reader)
	reader.Close()

	return buffer.String()
}
