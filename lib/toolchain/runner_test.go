// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kiln-build/kiln/lib/contentkey"
)

// writeStub installs an executable shell script standing in for the
// toolchain. The script sees the rendered environment, including BUILD_OUT.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolchain-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func stubInvocation(t *testing.T, command string) *Invocation {
	t.Helper()
	workspace := t.TempDir()
	out := filepath.Join(workspace, "target", "artifact.bin")
	return &Invocation{
		Key:        contentkey.FromSource("stub"),
		Command:    command,
		Args:       nil,
		Env:        []string{"BUILD_OUT=" + out},
		Dir:        workspace,
		OutputPath: out,
	}
}

func TestInvokeSuccess(t *testing.T) {
	stub := writeStub(t, `mkdir -p "$(dirname "$BUILD_OUT")"
printf artifact > "$BUILD_OUT"`)
	inv := stubInvocation(t, stub)

	result, err := NewRunner(nil).Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.OutputPath != inv.OutputPath {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, inv.OutputPath)
	}
	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != "artifact" {
		t.Errorf("artifact content = %q", data)
	}
	if result.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", result.Duration)
	}
}

func TestInvokeExitError(t *testing.T) {
	stub := writeStub(t, `echo "error: expected identifier, found +" >&2
exit 3`)
	inv := stubInvocation(t, stub)

	_, err := NewRunner(nil).Invoke(context.Background(), inv)
	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatalf("Invoke error = %v, want *Error", err)
	}
	if buildErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", buildErr.ExitCode)
	}
	if !strings.Contains(buildErr.Stderr, "expected identifier") {
		t.Errorf("Stderr = %q, missing compiler message", buildErr.Stderr)
	}
	if !strings.Contains(buildErr.Error(), "expected identifier") {
		t.Errorf("Error() = %q, missing compiler message", buildErr.Error())
	}
	if buildErr.Timeout {
		t.Error("Timeout = true on plain exit failure")
	}
}

func TestInvokeTimeout(t *testing.T) {
	stub := writeStub(t, `sleep 30`)
	inv := stubInvocation(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewRunner(nil).Invoke(ctx, inv)
	elapsed := time.Since(start)

	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatalf("Invoke error = %v, want *Error", err)
	}
	if !buildErr.Timeout {
		t.Errorf("Timeout = false, want true: %v", buildErr)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Invoke took %v, process group was not killed promptly", elapsed)
	}
	if !strings.Contains(buildErr.Error(), "timeout") {
		t.Errorf("Error() = %q, want timeout wording", buildErr.Error())
	}
}

func TestInvokeMissingOutput(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	inv := stubInvocation(t, stub)

	_, err := NewRunner(nil).Invoke(context.Background(), inv)
	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatalf("Invoke error = %v, want *Error", err)
	}
	if !buildErr.MissingOutput {
		t.Errorf("MissingOutput = false, want true: %v", buildErr)
	}
}

func TestInvokeCommandNotFound(t *testing.T) {
	inv := stubInvocation(t, "kiln-no-such-toolchain-binary")

	_, err := NewRunner(nil).Invoke(context.Background(), inv)
	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatalf("Invoke error = %v, want *Error", err)
	}
	if !errors.Is(buildErr.Err, exec.ErrNotFound) {
		t.Errorf("Err = %v, want exec.ErrNotFound", buildErr.Err)
	}
}

func TestInvokeDiagnostics(t *testing.T) {
	stub := writeStub(t, `printf '%s\n' '{"reason":"compiler-message","message":{"level":"error","rendered":"cannot find value x in this scope"}}'
printf '%s\n' '{"reason":"compiler-message","message":{"level":"warning","rendered":"unused variable y"}}'
exit 1`)
	inv := stubInvocation(t, stub)

	_, err := NewRunner(nil).Invoke(context.Background(), inv)
	var buildErr *Error
	if !errors.As(err, &buildErr) {
		t.Fatalf("Invoke error = %v, want *Error", err)
	}
	if len(buildErr.Diagnostics) != 1 {
		t.Fatalf("Diagnostics = %v, want the single error-level message", buildErr.Diagnostics)
	}
	if !strings.Contains(buildErr.Diagnostics[0], "cannot find value x") {
		t.Errorf("Diagnostics[0] = %q", buildErr.Diagnostics[0])
	}
	if !strings.Contains(buildErr.Error(), "cannot find value x") {
		t.Errorf("Error() = %q, want rendered diagnostic", buildErr.Error())
	}
}

func TestExtractDiagnostics(t *testing.T) {
	stdout := strings.Join([]string{
		`   Compiling contract_abc v0.1.0`,
		`{"reason":"compiler-message","message":{"level":"warning","rendered":"unused import"}}`,
		`{"reason":"compiler-message","message":{"level":"error","rendered":"mismatched types"}}`,
		`{"reason":"build-finished","success":false}`,
		`{"message":"linker exited with status 1"}`,
		`not json at all {`,
	}, "\n")

	got := extractDiagnostics(stdout)
	want := []string{"mismatched types", "linker exited with status 1"}
	if len(got) != len(want) {
		t.Fatalf("extractDiagnostics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("diagnostic[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractDiagnosticsCapped(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, `{"message":{"level":"error","rendered":"diagnostic"}}`)
	}
	got := extractDiagnostics(strings.Join(lines, "\n"))
	if len(got) != maxDiagnostics {
		t.Errorf("len(diagnostics) = %d, want cap %d", len(got), maxDiagnostics)
	}
}

func TestTailWriterKeepsLastBytes(t *testing.T) {
	w := &tailWriter{limit: 8}
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if got := w.String(); got != "bbbbcccc" {
		t.Errorf("tail = %q, want %q", got, "bbbbcccc")
	}

	w = &tailWriter{limit: 8}
	if _, err := w.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if got := w.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want %q", got, "89abcdef")
	}
}
