// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/kiln-build/kiln/lib/archive"
	"github.com/kiln-build/kiln/lib/cron"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5m" or "90s", and from environment variables via the same syntax.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(text string) error {
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return d.Decode(text)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the master configuration for the kiln build service.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Listen configures the service endpoints.
	Listen ListenConfig `yaml:"listen"`

	// Build configures the compile pipeline.
	Build BuildConfig `yaml:"build"`

	// Janitor configures the scheduled sweep.
	Janitor JanitorConfig `yaml:"janitor"`

	// Per-environment overrides, applied after the base config is
	// loaded when Environment matches.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the sections that can be overridden per
// environment.
type Overrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Listen *ListenConfig `yaml:"listen,omitempty"`
	Build  *BuildConfig  `yaml:"build,omitempty"`
}

// PathsConfig configures directory locations. Every path except Root
// and Profile defaults to a location under Root when left empty.
type PathsConfig struct {
	// Root is the base directory for kiln data.
	Root string `yaml:"root" env:"KILN_ROOT"`

	// Cache is the artifact cache directory. Default: {root}/cache.
	Cache string `yaml:"cache"`

	// Build is the workspace root. Default: {root}/build.
	Build string `yaml:"build"`

	// Accel is the shared toolchain acceleration directory. Default:
	// {root}/accel.
	Accel string `yaml:"accel"`

	// Retain is where failure archives are written. Default:
	// {root}/retain.
	Retain string `yaml:"retain"`

	// Journal is the build journal database file. Default:
	// {root}/journal.db.
	Journal string `yaml:"journal"`

	// Profile is the toolchain profile file (JSONC). Empty uses the
	// built-in cargo profile.
	Profile string `yaml:"profile" env:"KILN_PROFILE"`
}

// ListenConfig configures the service endpoints.
type ListenConfig struct {
	// Socket is the Unix socket the build service listens on.
	// Default: {root}/build.sock. Production deployments typically
	// set /run/kiln/build.sock.
	Socket string `yaml:"socket" env:"KILN_SOCKET"`

	// Metrics is the host:port for the Prometheus metrics and health
	// endpoint. Empty disables the listener.
	Metrics string `yaml:"metrics" env:"KILN_METRICS"`
}

// BuildConfig configures the compile pipeline.
type BuildConfig struct {
	// Concurrency bounds how many toolchain subprocesses run at
	// once.
	Concurrency int `yaml:"concurrency" env:"KILN_CONCURRENCY"`

	// Timeout is the per-build wall-clock limit.
	Timeout Duration `yaml:"timeout" env:"KILN_BUILD_TIMEOUT"`

	// PoolCapacity is how many empty workspace directories are kept
	// for reuse.
	PoolCapacity int `yaml:"pool_capacity"`

	// RetainFailures archives the workspace of failed builds into
	// Paths.Retain for diagnosis.
	RetainFailures bool `yaml:"retain_failures"`

	// RetainCompression picks the archive compression: "zstd",
	// "lz4", or "none".
	RetainCompression string `yaml:"retain_compression"`
}

// JanitorConfig configures the scheduled sweep.
type JanitorConfig struct {
	// Disabled turns the janitor off entirely.
	Disabled bool `yaml:"disabled"`

	// Schedule is a 5-field cron expression, UTC.
	Schedule string `yaml:"schedule"`

	// MaxAge is the staleness threshold for orphaned workspaces and
	// failure archives.
	MaxAge Duration `yaml:"max_age"`

	// JournalMaxAge is the build journal retention period.
	JournalMaxAge Duration `yaml:"journal_max_age"`
}

// Default returns the development defaults: everything under
// ~/.cache/kiln, two concurrent toolchain invocations, a five minute
// build timeout, and a nightly sweep.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "kiln")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root: root,
		},
		Listen: ListenConfig{
			Metrics: "127.0.0.1:9744",
		},
		Build: BuildConfig{
			Concurrency:       2,
			Timeout:           Duration(5 * time.Minute),
			PoolCapacity:      4,
			RetainCompression: "zstd",
		},
		Janitor: JanitorConfig{
			Schedule:      "0 3 * * *",
			MaxAge:        Duration(24 * time.Hour),
			JournalMaxAge: Duration(30 * 24 * time.Hour),
		},
	}
}

// Load loads configuration from the file named by KILN_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("KILN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("KILN_CONFIG environment variable not set; " +
			"set it to the path of your kiln.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads configuration with the daemon's precedence: an
// explicit flag path first, then KILN_CONFIG, then defaults with no
// file at all. KILN_* environment overrides apply in every case.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv("KILN_CONFIG") != "" {
		return Load()
	}

	cfg := Default()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize applies environment-section overrides, KILN_* variables,
// derived paths, and ${VAR} expansion, in that order. Derivation runs
// after the environment overlay so a KILN_ROOT override moves every
// derived path with it.
func (c *Config) finalize() error {
	c.applyEnvironmentOverrides()

	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		// ErrNoTargetFieldsAreSet just means no KILN_* variable is
		// present, which is the common case.
		return fmt.Errorf("config: environment overrides: %w", err)
	}

	c.derivePaths()
	c.expandVariables()
	return nil
}

// applyEnvironmentOverrides merges the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		mergePath := func(dst *string, src string) {
			if src != "" {
				*dst = src
			}
		}
		mergePath(&c.Paths.Root, overrides.Paths.Root)
		mergePath(&c.Paths.Cache, overrides.Paths.Cache)
		mergePath(&c.Paths.Build, overrides.Paths.Build)
		mergePath(&c.Paths.Accel, overrides.Paths.Accel)
		mergePath(&c.Paths.Retain, overrides.Paths.Retain)
		mergePath(&c.Paths.Journal, overrides.Paths.Journal)
		mergePath(&c.Paths.Profile, overrides.Paths.Profile)
	}

	if overrides.Listen != nil {
		if overrides.Listen.Socket != "" {
			c.Listen.Socket = overrides.Listen.Socket
		}
		if overrides.Listen.Metrics != "" {
			c.Listen.Metrics = overrides.Listen.Metrics
		}
	}

	if overrides.Build != nil {
		if overrides.Build.Concurrency > 0 {
			c.Build.Concurrency = overrides.Build.Concurrency
		}
		if overrides.Build.Timeout > 0 {
			c.Build.Timeout = overrides.Build.Timeout
		}
		if overrides.Build.PoolCapacity > 0 {
			c.Build.PoolCapacity = overrides.Build.PoolCapacity
		}
		// RetainFailures is a bool, so the override section always
		// applies it.
		c.Build.RetainFailures = overrides.Build.RetainFailures
		if overrides.Build.RetainCompression != "" {
			c.Build.RetainCompression = overrides.Build.RetainCompression
		}
	}
}

// derivePaths fills empty derived paths from Root.
func (c *Config) derivePaths() {
	derive := func(dst *string, element string) {
		if *dst == "" {
			*dst = filepath.Join(c.Paths.Root, element)
		}
	}
	derive(&c.Paths.Cache, "cache")
	derive(&c.Paths.Build, "build")
	derive(&c.Paths.Accel, "accel")
	derive(&c.Paths.Retain, "retain")
	derive(&c.Paths.Journal, "journal.db")
	derive(&c.Listen.Socket, "build.sock")
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"KILN_ROOT": c.Paths.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["KILN_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Paths.Build = expandVars(c.Paths.Build, vars)
	c.Paths.Accel = expandVars(c.Paths.Accel, vars)
	c.Paths.Retain = expandVars(c.Paths.Retain, vars)
	c.Paths.Journal = expandVars(c.Paths.Journal, vars)
	c.Paths.Profile = expandVars(c.Paths.Profile, vars)
	c.Listen.Socket = expandVars(c.Listen.Socket, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Listen.Socket == "" {
		errs = append(errs, fmt.Errorf("listen.socket is required"))
	}
	if c.Build.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("build.concurrency must be at least 1, got %d", c.Build.Concurrency))
	}
	if c.Build.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("build.timeout must be positive, got %s", c.Build.Timeout.Std()))
	}
	if c.Build.PoolCapacity < 1 {
		errs = append(errs, fmt.Errorf("build.pool_capacity must be at least 1, got %d", c.Build.PoolCapacity))
	}
	if _, err := archive.ParseCompression(c.Build.RetainCompression); err != nil {
		errs = append(errs, fmt.Errorf("build.retain_compression: %w", err))
	}
	if !c.Janitor.Disabled {
		if _, err := cron.Parse(c.Janitor.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("janitor.schedule: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Cache,
		c.Paths.Build,
		c.Paths.Accel,
		c.Paths.Retain,
		filepath.Dir(c.Paths.Journal),
		filepath.Dir(c.Listen.Socket),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
