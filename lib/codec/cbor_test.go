// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

// sampleRecord mirrors how agentrelay types are tagged: json tags only,
// relying on the CBOR library's fallback.
type sampleRecord struct {
	JobID     string    `json:"job_id"`
	Digest    string    `json:"digest,omitempty"`
	LineCount int       `json:"line_count"`
	CreatedAt time.Time `json:"created_at"`
}

func TestMarshalUnmarshalPreservesTime(t *testing.T) {
	original := sampleRecord{
		JobID:     "job-1",
		Digest:    "abc",
		LineCount: 7,
		CreatedAt: time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
	decoded.CreatedAt = original.CreatedAt
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"session_id": "s", "prompt": "p", "limit": 5}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestUntypedMapsDecodeWithStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"action": "get"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	nested, ok := decoded["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested has type %T, want map[string]any", decoded["nested"])
	}
	if nested["action"] != "get" {
		t.Errorf("nested[action] = %v, want get", nested["action"])
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for index := range 3 {
		if err := encoder.Encode(sampleRecord{JobID: "job", LineCount: index}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index := range 3 {
		var record sampleRecord
		if err := decoder.Decode(&record); err != nil {
			t.Fatalf("Decode %d: %v", index, err)
		}
		if record.LineCount != index {
			t.Errorf("record %d LineCount = %d", index, record.LineCount)
		}
	}
}
