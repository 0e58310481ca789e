// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolchain describes and invokes the external contract
// compiler. The compiler is opaque to the build service: a profile
// names the command to run, the files to materialize into the
// workspace, and the artifact path the command is expected to
// produce. The service never interprets what the toolchain does, it
// only checks the exit status and that the promised artifact exists.
package toolchain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/kiln-build/kiln/lib/contentkey"
)

// Profile declares how to drive one toolchain. Profiles are authored
// on disk as JSONC (JSON extended with comments and trailing commas).
//
// String fields support three placeholders, expanded at render time:
//
//   - {{crate}}: the per-key crate name, contract_<key>
//   - {{key}}: the short content key
//   - {{target}}: the toolchain acceleration directory
//
// The crate name is hash-suffixed so that concurrent builds of
// different contracts never collide inside a shared acceleration
// directory, and the output path is rendered from the same crate
// placeholder so the expected artifact name always follows the crate
// name. Keep the two consistent when writing custom profiles.
type Profile struct {
	// Command is the toolchain executable, resolved via PATH
	// unless it contains a path separator.
	Command string `json:"command"`

	// Args are the command arguments.
	Args []string `json:"args"`

	// Env are KEY=value entries appended to the service
	// environment for the invocation.
	Env []string `json:"env"`

	// ManifestFile is the workspace-relative path of the generated
	// project manifest.
	ManifestFile string `json:"manifest_file"`

	// ManifestTemplate is the manifest content, one line per
	// element.
	ManifestTemplate []string `json:"manifest_template"`

	// SourceFile is the workspace-relative path the submitted
	// source text is written to.
	SourceFile string `json:"source_file"`

	// OutputPath is where the compiled artifact appears. Rendered
	// relative to the workspace when not absolute after placeholder
	// expansion.
	OutputPath string `json:"output_path"`
}

// Default returns the stock profile: cargo building a cdylib for
// wasm32-unknown-unknown. The manifest pins no dependencies; contract
// dependencies are expected to be vendored in the toolchain image, so
// the build runs offline.
func Default() *Profile {
	return &Profile{
		Command: "cargo",
		Args:    []string{"build", "--release", "--target", "wasm32-unknown-unknown", "--offline"},
		Env:     []string{"CARGO_TARGET_DIR={{target}}"},

		ManifestFile: "Cargo.toml",
		ManifestTemplate: []string{
			`[package]`,
			`name = "{{crate}}"`,
			`version = "0.1.0"`,
			`edition = "2021"`,
			``,
			`[lib]`,
			`crate-type = ["cdylib"]`,
			`path = "src/lib.rs"`,
			``,
			`[dependencies]`,
		},
		SourceFile: "src/lib.rs",
		OutputPath: "{{target}}/wasm32-unknown-unknown/release/{{crate}}.wasm",
	}
}

// Load reads a JSONC profile from path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolchain: reading profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(jsonc.ToJSON(data), &profile); err != nil {
		return nil, fmt.Errorf("toolchain: parsing profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("toolchain: profile %s: %w", path, err)
	}
	return &profile, nil
}

// Validate checks that the profile names everything an invocation
// needs.
func (p *Profile) Validate() error {
	if p.Command == "" {
		return fmt.Errorf("command is required")
	}
	if p.ManifestFile == "" {
		return fmt.Errorf("manifest_file is required")
	}
	if p.SourceFile == "" {
		return fmt.Errorf("source_file is required")
	}
	if p.OutputPath == "" {
		return fmt.Errorf("output_path is required")
	}
	if !filepath.IsLocal(p.ManifestFile) {
		return fmt.Errorf("manifest_file %q must be workspace-relative", p.ManifestFile)
	}
	if !filepath.IsLocal(p.SourceFile) {
		return fmt.Errorf("source_file %q must be workspace-relative", p.SourceFile)
	}
	return nil
}

// CrateName returns the per-key crate name embedded in manifests and
// artifact filenames.
func CrateName(key contentkey.Key) string {
	return "contract_" + key.ID()
}

// Invocation is a profile rendered for one concrete build: all
// placeholders expanded, all paths resolved.
type Invocation struct {
	// Key is the content key being built, carried for logging.
	Key contentkey.Key

	// Command and Args form the command line.
	Command string
	Args    []string

	// Env are the rendered KEY=value entries appended to the
	// service environment.
	Env []string

	// Dir is the workspace directory the command runs in.
	Dir string

	// OutputPath is the absolute path of the expected artifact.
	OutputPath string

	manifestFile string
	manifestBody string
	sourceFile   string
}

// Render binds the profile to one build: the content key being
// compiled, the workspace the toolchain runs in, and the acceleration
// directory for {{target}}.
func (p *Profile) Render(key contentkey.Key, workspaceDir, targetDir string) (*Invocation, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("toolchain: %w", err)
	}

	expand := strings.NewReplacer(
		"{{crate}}", CrateName(key),
		"{{key}}", key.ID(),
		"{{target}}", targetDir,
	).Replace

	args := make([]string, len(p.Args))
	for i, arg := range p.Args {
		args[i] = expand(arg)
	}
	env := make([]string, len(p.Env))
	for i, entry := range p.Env {
		env[i] = expand(entry)
	}

	outputPath := expand(p.OutputPath)
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(workspaceDir, outputPath)
	}

	var manifest strings.Builder
	for _, line := range p.ManifestTemplate {
		manifest.WriteString(expand(line))
		manifest.WriteByte('\n')
	}

	return &Invocation{
		Key:          key,
		Command:      p.Command,
		Args:         args,
		Env:          env,
		Dir:          workspaceDir,
		OutputPath:   outputPath,
		manifestFile: p.ManifestFile,
		manifestBody: manifest.String(),
		sourceFile:   p.SourceFile,
	}, nil
}

// Files returns the workspace files to materialize for this
// invocation: the rendered manifest and the submitted source text.
func (inv *Invocation) Files(source string) map[string]string {
	return map[string]string{
		inv.manifestFile: inv.manifestBody,
		inv.sourceFile:   source,
	}
}

// CommandLine returns the full command line for logs and errors.
func (inv *Invocation) CommandLine() string {
	if len(inv.Args) == 0 {
		return inv.Command
	}
	return inv.Command + " " + strings.Join(inv.Args, " ")
}
