// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestArchive(t *testing.T) (*Archive, string) {
	t.Helper()
	directory := t.TempDir()
	archive, err := Open(Config{Directory: directory, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive, directory
}

const sampleStream = `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}
{"type":"result","subtype":"success","result":"hi"}
`

func TestStoreAndLoad(t *testing.T) {
	t.Parallel()
	archive, _ := openTestArchive(t)

	record, err := archive.Store(Entry{JobID: "job-1", SessionID: "s", DeviceID: "d", Raw: []byte(sampleStream)})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if record.LineCount != 2 {
		t.Errorf("LineCount = %d, want 2", record.LineCount)
	}
	if record.RawSize != len(sampleStream) {
		t.Errorf("RawSize = %d, want %d", record.RawSize, len(sampleStream))
	}
	if record.Digest != Hash([]byte(sampleStream)).String() {
		t.Errorf("Digest = %s, want hash of stream", record.Digest)
	}

	loaded, raw, err := archive.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(raw, []byte(sampleStream)) {
		t.Errorf("raw = %q, want %q", raw, sampleStream)
	}
	if loaded.SessionID != "s" || loaded.DeviceID != "d" || !loaded.CreatedAt.Equal(epoch) {
		t.Errorf("loaded record = %+v", loaded)
	}
}

func TestIdenticalStreamsDeduplicate(t *testing.T) {
	t.Parallel()
	archive, directory := openTestArchive(t)

	for _, jobID := range []string{"a", "b"} {
		if _, err := archive.Store(Entry{JobID: jobID, Raw: []byte(sampleStream)}); err != nil {
			t.Fatalf("Store(%s): %v", jobID, err)
		}
	}
	streams, err := os.ReadDir(filepath.Join(directory, "streams"))
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) != 1 {
		t.Errorf("got %d stream files, want 1", len(streams))
	}
	jobs, _ := os.ReadDir(filepath.Join(directory, "jobs"))
	if len(jobs) != 2 {
		t.Errorf("got %d job records, want 2", len(jobs))
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	t.Parallel()
	archive, _ := openTestArchive(t)

	record, err := archive.Store(Entry{JobID: "job", Raw: []byte(sampleStream)})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	digest, _ := ParseDigest(record.Digest)

	// Replace the stream with valid zstd of different content.
	tampered := archive.encoder.EncodeAll([]byte("something else\n"), nil)
	if err := os.WriteFile(archive.streamPath(digest), tampered, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := archive.Load("job"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load = %v, want ErrCorrupt", err)
	}

	if err := os.WriteFile(archive.streamPath(digest), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := archive.Load("job"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load = %v, want ErrCorrupt", err)
	}

	os.Remove(archive.streamPath(digest))
	if _, _, err := archive.Load("job"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load = %v, want ErrCorrupt", err)
	}
}

func TestLoadUnknownJob(t *testing.T) {
	t.Parallel()
	archive, _ := openTestArchive(t)

	for _, jobID := range []string{"missing", "../escape"} {
		if _, _, err := archive.Load(jobID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%q) = %v, want ErrNotFound", jobID, err)
		}
	}
}

func TestStoreRejectsPathJobID(t *testing.T) {
	t.Parallel()
	archive, _ := openTestArchive(t)

	for _, jobID := range []string{"", "a/b", ".."} {
		if _, err := archive.Store(Entry{JobID: jobID, Raw: []byte("x")}); err == nil {
			t.Errorf("Store(%q) succeeded, want error", jobID)
		}
	}
}

func TestParseDigest(t *testing.T) {
	t.Parallel()

	digest := Hash([]byte("abc"))
	parsed, err := ParseDigest(digest.String())
	if err != nil || parsed != digest {
		t.Fatalf("ParseDigest round trip = %v, %v", parsed, err)
	}
	if _, err := ParseDigest("zz"); err == nil {
		t.Error("ParseDigest(zz) succeeded, want error")
	}
	if Hash([]byte("abc")) == Hash([]byte("abd")) {
		t.Error("distinct inputs hash equal")
	}
}
