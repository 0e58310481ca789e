// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"regexp"
	"strconv"
	"strings"
)

// The extractor is a structural scan, not a parser. Three independent
// recognizers run over the raw source text:
//
//   - method markers: #[opcode(N)], optionally #[returns(T)], then an
//     identifier (optionally preceded by pub and/or fn) and an
//     optional brace-delimited field block
//   - type declarations: the first `pub struct Name` supplies the
//     contract name
//   - storage declarations: Storage*::new("key") registers a slot
//
// Unusually formatted source can defeat the scan; that is an accepted
// false negative. The scan never fails.
var (
	methodPattern = regexp.MustCompile(
		`#\[opcode\(\s*(\d+)\s*\)\]\s*(?:#\[returns\(\s*([^)]+?)\s*\)\]\s*)?(?:pub\s+)?(?:fn\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*(\{)?`)
	structPattern = regexp.MustCompile(
		`\bpub\s+struct\s+([A-Za-z_][A-Za-z0-9_]*)`)
	storagePattern = regexp.MustCompile(
		`\bStorage[A-Za-z0-9_]*\s*(?:<[^>]*>)?\s*::\s*new\s*\(\s*"([^"]*)"`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Extract scans source text for interface markers and returns the
// resulting description. It never fails: source with no recognizable
// markers yields a description with the fallback name and empty
// method and storage lists.
func Extract(source string) Description {
	desc := Description{
		Name:    FallbackName,
		Version: FormatVersion,
		Methods: []Method{},
		Storage: []StorageSlot{},
		Opcodes: map[string]int{},
	}

	if m := structPattern.FindStringSubmatch(source); m != nil {
		desc.Name = m[1]
	}

	for _, match := range methodPattern.FindAllStringSubmatchIndex(source, -1) {
		opcode, err := strconv.Atoi(source[match[2]:match[3]])
		if err != nil {
			// Digits too large for int. Skip the marker rather
			// than record a mangled opcode.
			continue
		}

		method := Method{
			Opcode:  opcode,
			Name:    source[match[6]:match[7]],
			Inputs:  []Param{},
			Outputs: []string{},
		}
		if match[4] >= 0 {
			method.Outputs = append(method.Outputs, collapseSpace(source[match[4]:match[5]]))
		}
		if match[8] >= 0 {
			method.Inputs = parseFieldBlock(source, match[8])
		}

		desc.Methods = append(desc.Methods, method)
		desc.Opcodes[method.Name] = method.Opcode
	}

	for _, match := range storagePattern.FindAllStringSubmatch(source, -1) {
		desc.Storage = append(desc.Storage, StorageSlot{
			Key:  match[1],
			Type: DefaultStorageType,
		})
	}

	return desc
}

// parseFieldBlock parses the `name: Type` fields of a brace block
// whose opening brace sits at source[open]. Returns the fields parsed
// so far when the block is malformed; never fails.
func parseFieldBlock(source string, open int) []Param {
	end := matchingBrace(source, open)
	if end < 0 {
		return []Param{}
	}

	fields := []Param{}
	for _, candidate := range splitFields(source[open+1 : end]) {
		name, typeExpr, found := strings.Cut(candidate, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		typeExpr = collapseSpace(typeExpr)
		if !identPattern.MatchString(name) || typeExpr == "" {
			continue
		}
		fields = append(fields, Param{Name: name, Type: typeExpr})
	}
	return fields
}

// matchingBrace returns the index of the brace closing the block
// opened at source[open], or -1 if the block never closes.
func matchingBrace(source string, open int) int {
	depth := 0
	for i := open; i < len(source); i++ {
		switch source[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitFields splits a field block body at commas and newlines,
// except inside angle brackets so generic types like Map<Address,
// U64> survive as one piece.
func splitFields(body string) []string {
	var fields []string
	var current strings.Builder
	depth := 0
	for _, r := range body {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',', '\n':
			if depth == 0 {
				fields = append(fields, current.String())
				current.Reset()
				continue
			}
		}
		current.WriteRune(r)
	}
	fields = append(fields, current.String())
	return fields
}

// collapseSpace trims a type expression and collapses interior
// whitespace runs to single spaces, so a type split across lines
// compares equal to its single-line spelling.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
