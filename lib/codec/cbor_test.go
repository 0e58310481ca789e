// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleRequest is a representative socket envelope using cbor struct
// tags (the convention for purely-internal types).
type sampleRequest struct {
	Action string `cbor:"action"`
	Name   string `cbor:"name,omitempty"`
	Source string `cbor:"source"`
}

// sampleDescription uses json struct tags (the convention for types
// that serve both JSON and CBOR, relying on fxamacker's fallback).
type sampleDescription struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRequest{
		Action: "compile",
		Name:   "Counter",
		Source: "pub struct Counter {}",
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	request := sampleRequest{
		Action: "describe",
		Source: "fn f() {}",
	}

	first, err := Marshal(request)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(request)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	requests := []sampleRequest{
		{Action: "compile", Name: "A", Source: "a"},
		{Action: "compile", Name: "B", Source: "b"},
		{Action: "stats"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, request := range requests {
		if err := encoder.Encode(request); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range requests {
		var got sampleRequest
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode request %d: %v", i, err)
		}
		if got != want {
			t.Errorf("request %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	// Types with json tags (no cbor tags) should encode and decode
	// through our modes using the json tag names as CBOR map keys.
	original := sampleDescription{Name: "Counter", Version: "1"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDescription
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if generic["name"] != "Counter" {
		t.Errorf("map key name = %v, want Counter", generic["name"])
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withName := sampleRequest{Action: "compile", Name: "Counter", Source: "s"}
	withoutName := sampleRequest{Action: "compile", Source: "s"}

	dataWith, err := Marshal(withName)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutName)
	if err != nil {
		t.Fatal(err)
	}

	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not respected: %d bytes without name, %d with", len(dataWithout), len(dataWith))
	}
}
