// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package abi defines the contract interface description extracted
// from source text and stored alongside compiled binaries. The
// description is advisory: callers use it to dispatch into a deployed
// contract, but the binary is the artifact of record.
package abi

// FormatVersion is the version string stamped into every extracted
// description. Bump when the description shape changes
// incompatibly.
const FormatVersion = "1"

// FallbackName is used when the source declares no public structure
// to take a name from.
const FallbackName = "Contract"

// DefaultStorageType is the type recorded for storage slots. Slot
// constructors do not carry an element type the scanner can see, so
// every slot is typed as raw bytes.
const DefaultStorageType = "bytes"

// Description is the extracted interface of one contract.
type Description struct {
	// Name is the contract's declared name, or FallbackName when
	// none was found.
	Name string `json:"name"`

	// Version is the description format version, not the
	// contract's own version.
	Version string `json:"version"`

	// Methods lists every opcode-annotated method in
	// source-appearance order.
	Methods []Method `json:"methods"`

	// Storage lists every declared storage slot in
	// source-appearance order.
	Storage []StorageSlot `json:"storage"`

	// Opcodes maps method name to opcode for dispatch. When a name
	// appears more than once in the source, the last occurrence
	// wins here while Methods keeps every occurrence.
	Opcodes map[string]int `json:"opcodes"`
}

// Method is one dispatchable entry point.
type Method struct {
	Opcode  int      `json:"opcode"`
	Name    string   `json:"name"`
	Inputs  []Param  `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// Param is a named, typed method input. Types are opaque source-level
// expressions, not validated.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// StorageSlot is one named persistent storage slot.
type StorageSlot struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}
