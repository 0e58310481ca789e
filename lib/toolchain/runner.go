// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sys/unix"

	"github.com/kiln-build/kiln/lib/contentkey"
)

// defaultTailBytes bounds how much stdout and stderr each invocation
// retains. Toolchains can emit megabytes of progress output; errors
// cluster at the end, so a bounded tail keeps failure reports useful
// without unbounded buffering.
const defaultTailBytes = 16 * 1024

// maxDiagnostics bounds how many structured compiler messages are
// attached to an error.
const maxDiagnostics = 5

// waitDelay is how long Wait gives the process's I/O pipes to drain
// after the command is killed on context cancellation.
const waitDelay = 5 * time.Second

// Runner executes toolchain invocations as subprocesses.
type Runner struct {
	logger    *slog.Logger
	tailBytes int
}

// NewRunner returns a Runner that logs through the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{logger: logger, tailBytes: defaultTailBytes}
}

// InvokeResult reports a successful invocation.
type InvokeResult struct {
	// OutputPath is the verified location of the produced
	// artifact.
	OutputPath string

	// Duration is the subprocess wall-clock time.
	Duration time.Duration

	// StdoutTail and StderrTail hold the bounded tails of the
	// subprocess output, for logging.
	StdoutTail string
	StderrTail string
}

// Invoke runs the invocation to completion and verifies the expected
// artifact exists. The subprocess runs in its own process group; on
// context cancellation or deadline the whole group is killed, so
// compiler-spawned helpers do not outlive the build.
//
// The returned error is always an [*Error] describing the failure in
// the invocation taxonomy: command not found, non-zero exit, timeout,
// or missing output artifact.
func (r *Runner) Invoke(ctx context.Context, inv *Invocation) (*InvokeResult, error) {
	binary, err := exec.LookPath(inv.Command)
	if err != nil {
		return nil, &Error{
			Key:     inv.Key,
			Command: inv.CommandLine(),
			Err:     fmt.Errorf("toolchain command %q not found: %w", inv.Command, err),
		}
	}

	stdout := &tailWriter{limit: r.tailBytes}
	stderr := &tailWriter{limit: r.tailBytes}

	cmd := exec.CommandContext(ctx, binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Own process group, so cancellation kills the compiler and
	// everything it spawned, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	r.logger.Info("toolchain start",
		"key", inv.Key,
		"command", inv.CommandLine(),
		"dir", inv.Dir,
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		invErr := &Error{
			Key:         inv.Key,
			Command:     inv.CommandLine(),
			ExitCode:    -1,
			Timeout:     errors.Is(ctx.Err(), context.DeadlineExceeded),
			Stderr:      stderr.String(),
			Diagnostics: extractDiagnostics(stdout.String(), stderr.String()),
			Err:         runErr,
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			invErr.ExitCode = exitErr.ExitCode()
		}
		r.logger.Warn("toolchain failed",
			"key", inv.Key,
			"exit_code", invErr.ExitCode,
			"timeout", invErr.Timeout,
			"duration", duration,
		)
		return nil, invErr
	}

	if _, err := os.Stat(inv.OutputPath); err != nil {
		return nil, &Error{
			Key:           inv.Key,
			Command:       inv.CommandLine(),
			MissingOutput: true,
			Stderr:        stderr.String(),
			Err:           fmt.Errorf("expected output artifact %s: %w", inv.OutputPath, err),
		}
	}

	r.logger.Info("toolchain done",
		"key", inv.Key,
		"duration", duration,
		"output", inv.OutputPath,
	)

	return &InvokeResult{
		OutputPath: inv.OutputPath,
		Duration:   duration,
		StdoutTail: stdout.String(),
		StderrTail: stderr.String(),
	}, nil
}

// Error describes a failed toolchain invocation.
type Error struct {
	// Key is the content key the invocation was building.
	Key contentkey.Key

	// Command is the full command line.
	Command string

	// ExitCode is the subprocess exit code, -1 when the process
	// did not run or was killed.
	ExitCode int

	// Timeout is true when the invocation exceeded its deadline
	// and was killed.
	Timeout bool

	// MissingOutput is true when the command exited zero but the
	// expected artifact does not exist.
	MissingOutput bool

	// Stderr is the bounded tail of the subprocess stderr.
	Stderr string

	// Diagnostics holds rendered compiler error messages when the
	// toolchain emits structured JSON output, best effort.
	Diagnostics []string

	// Err is the underlying failure.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: killed after exceeding the build timeout", e.Command)
	case e.MissingOutput:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	case len(e.Diagnostics) > 0:
		return fmt.Sprintf("%s: %s", e.Command, strings.Join(e.Diagnostics, "; "))
	}
	if stderrText := strings.TrimSpace(e.Stderr); stderrText != "" {
		return fmt.Sprintf("%s: %s", e.Command, stderrText)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// extractDiagnostics scans subprocess output for structured compiler
// messages. Toolchains in JSON message mode emit one JSON object per
// line; cargo's shape is {"message": {"level": ..., "rendered": ...}}.
// Unparseable lines are skipped.
func extractDiagnostics(streams ...string) []string {
	var diagnostics []string
	for _, stream := range streams {
		for _, line := range strings.Split(stream, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
				continue
			}
			if level := gjson.Get(line, "message.level"); level.Exists() && level.String() != "error" {
				continue
			}
			rendered := gjson.Get(line, "message.rendered")
			if !rendered.Exists() {
				rendered = gjson.Get(line, "message")
			}
			if rendered.Type != gjson.String {
				continue
			}
			text := strings.TrimSpace(rendered.String())
			if text == "" {
				continue
			}
			diagnostics = append(diagnostics, text)
			if len(diagnostics) >= maxDiagnostics {
				return diagnostics
			}
		}
	}
	return diagnostics
}

// tailWriter retains the last limit bytes written to it.
type tailWriter struct {
	limit int
	data  []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	if len(w.data) > w.limit {
		w.data = w.data[len(w.data)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(w.data)
}
