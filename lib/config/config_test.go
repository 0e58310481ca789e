// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("environment = %s, want development", cfg.Environment)
	}
	if cfg.Build.Concurrency != 2 {
		t.Errorf("build.concurrency = %d, want 2", cfg.Build.Concurrency)
	}
	if cfg.Build.Timeout.Std() != 5*time.Minute {
		t.Errorf("build.timeout = %s, want 5m", cfg.Build.Timeout.Std())
	}
	if cfg.Build.RetainCompression != "zstd" {
		t.Errorf("build.retain_compression = %s, want zstd", cfg.Build.RetainCompression)
	}
	if cfg.Janitor.Schedule != "0 3 * * *" {
		t.Errorf("janitor.schedule = %s, want nightly", cfg.Janitor.Schedule)
	}
}

func TestLoadRequiresKilnConfig(t *testing.T) {
	t.Setenv("KILN_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when KILN_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "KILN_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: production

paths:
  root: /var/lib/kiln

listen:
  socket: /run/kiln/build.sock

build:
  concurrency: 3
  timeout: 90s
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Environment != Production {
		t.Errorf("environment = %s, want production", cfg.Environment)
	}
	if cfg.Paths.Root != "/var/lib/kiln" {
		t.Errorf("paths.root = %s", cfg.Paths.Root)
	}
	if cfg.Listen.Socket != "/run/kiln/build.sock" {
		t.Errorf("listen.socket = %s", cfg.Listen.Socket)
	}
	if cfg.Build.Concurrency != 3 {
		t.Errorf("build.concurrency = %d, want 3", cfg.Build.Concurrency)
	}
	if cfg.Build.Timeout.Std() != 90*time.Second {
		t.Errorf("build.timeout = %s, want 90s", cfg.Build.Timeout.Std())
	}

	// Unset paths derive from root.
	if want := "/var/lib/kiln/cache"; cfg.Paths.Cache != want {
		t.Errorf("paths.cache = %s, want %s", cfg.Paths.Cache, want)
	}
	if want := "/var/lib/kiln/journal.db"; cfg.Paths.Journal != want {
		t.Errorf("paths.journal = %s, want %s", cfg.Paths.Journal, want)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: development

paths:
  root: /base/kiln

development:
  paths:
    root: /dev/kiln
  build:
    retain_failures: true
    concurrency: 1
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.Root != "/dev/kiln" {
		t.Errorf("paths.root = %s, want /dev/kiln", cfg.Paths.Root)
	}
	if !cfg.Build.RetainFailures {
		t.Error("build.retain_failures not applied from development section")
	}
	if cfg.Build.Concurrency != 1 {
		t.Errorf("build.concurrency = %d, want 1", cfg.Build.Concurrency)
	}
	if want := "/dev/kiln/build"; cfg.Paths.Build != want {
		t.Errorf("paths.build = %s, want %s", cfg.Paths.Build, want)
	}
}

func TestInactiveEnvironmentSectionIgnored(t *testing.T) {
	path := writeConfig(t, `
environment: development

paths:
  root: /base/kiln

production:
  paths:
    root: /prod/kiln
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Root != "/base/kiln" {
		t.Errorf("paths.root = %s, want /base/kiln", cfg.Paths.Root)
	}
}

func TestEnvVariableOverrides(t *testing.T) {
	t.Setenv("KILN_ROOT", "/env/kiln")
	t.Setenv("KILN_CONCURRENCY", "5")
	t.Setenv("KILN_BUILD_TIMEOUT", "30s")

	path := writeConfig(t, `
paths:
  root: /file/kiln
build:
  concurrency: 3
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Paths.Root != "/env/kiln" {
		t.Errorf("paths.root = %s, want env override /env/kiln", cfg.Paths.Root)
	}
	if cfg.Build.Concurrency != 5 {
		t.Errorf("build.concurrency = %d, want env override 5", cfg.Build.Concurrency)
	}
	if cfg.Build.Timeout.Std() != 30*time.Second {
		t.Errorf("build.timeout = %s, want env override 30s", cfg.Build.Timeout.Std())
	}

	// Derived paths follow the overridden root.
	if want := "/env/kiln/cache"; cfg.Paths.Cache != want {
		t.Errorf("paths.cache = %s, want %s", cfg.Paths.Cache, want)
	}
}

func TestExpandVariables(t *testing.T) {
	path := writeConfig(t, `
paths:
  root: /var/lib/kiln
  retain: ${KILN_ROOT}/keep
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if want := "/var/lib/kiln/keep"; cfg.Paths.Retain != want {
		t.Errorf("paths.retain = %s, want %s", cfg.Paths.Retain, want)
	}
}

func TestResolvePrecedence(t *testing.T) {
	flagPath := writeConfig(t, "paths:\n  root: /from/flag\n")
	envPath := writeConfig(t, "paths:\n  root: /from/env\n")
	t.Setenv("KILN_CONFIG", envPath)

	cfg, err := Resolve(flagPath)
	if err != nil {
		t.Fatalf("Resolve with flag: %v", err)
	}
	if cfg.Paths.Root != "/from/flag" {
		t.Errorf("paths.root = %s, want flag to win", cfg.Paths.Root)
	}

	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve with env: %v", err)
	}
	if cfg.Paths.Root != "/from/env" {
		t.Errorf("paths.root = %s, want KILN_CONFIG to win", cfg.Paths.Root)
	}

	t.Setenv("KILN_CONFIG", "")
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve with defaults: %v", err)
	}
	if cfg.Paths.Root == "" {
		t.Error("paths.root empty with default resolution")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		if err := cfg.finalize(); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad_environment", func(c *Config) { c.Environment = "staging" }, "invalid environment"},
		{"zero_concurrency", func(c *Config) { c.Build.Concurrency = 0 }, "concurrency"},
		{"zero_timeout", func(c *Config) { c.Build.Timeout = 0 }, "timeout"},
		{"zero_pool", func(c *Config) { c.Build.PoolCapacity = 0 }, "pool_capacity"},
		{"bad_compression", func(c *Config) { c.Build.RetainCompression = "brotli" }, "retain_compression"},
		{"bad_schedule", func(c *Config) { c.Janitor.Schedule = "often" }, "janitor.schedule"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := valid()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate accepted config, want error containing %q", test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Validate = %q, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestValidateSkipsScheduleWhenJanitorDisabled(t *testing.T) {
	cfg := Default()
	if err := cfg.finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	cfg.Janitor.Disabled = true
	cfg.Janitor.Schedule = "often"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil with janitor disabled", err)
	}
}

func TestDurationYAMLErrors(t *testing.T) {
	path := writeConfig(t, `
build:
  timeout: snail
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted unparseable duration")
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "kiln")
	cfg := Default()
	cfg.Paths.Root = root
	if err := cfg.finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.Cache, cfg.Paths.Build, cfg.Paths.Accel, cfg.Paths.Retain} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("missing directory %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
