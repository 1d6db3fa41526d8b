// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript archives the raw stream-json output of agent
// runs. Streams are compressed with zstd and addressed by their BLAKE3
// digest, so identical output is stored once:
//
//	<dir>/streams/<digest>.jsonl.zst
//	<dir>/jobs/<job_id>.cbor
//
// The per-job index record is CBOR. Load decompresses the stream and
// re-hashes it; an archive whose content no longer matches its digest
// is reported as ErrCorrupt.
package transcript

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/agentrelay/lib/clock"
	"github.com/bureau-foundation/agentrelay/lib/codec"
)

var (
	// ErrNotFound means no archive exists for the job.
	ErrNotFound = errors.New("transcript: not found")

	// ErrCorrupt means an archived stream fails its integrity check.
	ErrCorrupt = errors.New("transcript: corrupt archive")
)

// Digest is a 32-byte BLAKE3 keyed hash of a raw stream.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// ParseDigest parses the hex form produced by Digest.String.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil || len(decoded) != len(digest) {
		return Digest{}, fmt.Errorf("transcript: invalid digest %q", text)
	}
	copy(digest[:], decoded)
	return digest, nil
}

// streamDomainKey separates stream digests from any other BLAKE3 use.
var streamDomainKey = [32]byte{
	'a', 'g', 'e', 'n', 't', 'r', 'e', 'l', 'a', 'y', '.', 't', 'r', 'a', 'n', 's',
	'c', 'r', 'i', 'p', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Hash computes the digest of a raw stream.
func Hash(data []byte) Digest {
	hasher, err := blake3.NewKeyed(streamDomainKey[:])
	if err != nil {
		panic("transcript: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Record is the index entry written for each archived job.
type Record struct {
	JobID     string    `cbor:"job_id" json:"job_id"`
	SessionID string    `cbor:"session_id" json:"session_id"`
	DeviceID  string    `cbor:"device_id,omitempty" json:"device_id,omitempty"`
	Digest    string    `cbor:"digest" json:"digest"`
	RawSize   int       `cbor:"raw_size" json:"raw_size"`
	LineCount int       `cbor:"line_count" json:"line_count"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
}

// Entry describes a stream to archive.
type Entry struct {
	JobID     string
	SessionID string
	DeviceID  string
	Raw       []byte
}

// Archive stores transcripts under a directory. It is safe for
// concurrent use.
type Archive struct {
	directory string
	clock     clock.Clock
	logger    *slog.Logger
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// Config holds the parameters for opening an Archive.
type Config struct {
	Directory string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Open creates the archive directories if needed.
func Open(cfg Config) (*Archive, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("transcript: Directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	for _, sub := range []string{"streams", "jobs"} {
		if err := os.MkdirAll(filepath.Join(cfg.Directory, sub), 0o755); err != nil {
			return nil, fmt.Errorf("transcript: %w", err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("transcript: zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("transcript: zstd decoder: %w", err)
	}
	return &Archive{
		directory: cfg.Directory,
		clock:     clk,
		logger:    logger,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Close releases the codec state.
func (a *Archive) Close() error {
	a.decoder.Close()
	return a.encoder.Close()
}

func (a *Archive) streamPath(digest Digest) string {
	return filepath.Join(a.directory, "streams", digest.String()+".jsonl.zst")
}

func (a *Archive) recordPath(jobID string) string {
	return filepath.Join(a.directory, "jobs", jobID+".cbor")
}

// Store archives entry.Raw and writes the job's index record. A stream
// already present under the same digest is not rewritten.
func (a *Archive) Store(entry Entry) (Record, error) {
	if !validJobID(entry.JobID) {
		return Record{}, fmt.Errorf("transcript: invalid job id %q", entry.JobID)
	}

	digest := Hash(entry.Raw)
	record := Record{
		JobID:     entry.JobID,
		SessionID: entry.SessionID,
		DeviceID:  entry.DeviceID,
		Digest:    digest.String(),
		RawSize:   len(entry.Raw),
		LineCount: bytes.Count(entry.Raw, []byte("\n")),
		CreatedAt: a.clock.Now().UTC(),
	}
	if len(entry.Raw) > 0 && entry.Raw[len(entry.Raw)-1] != '\n' {
		record.LineCount++
	}

	streamPath := a.streamPath(digest)
	if _, err := os.Stat(streamPath); errors.Is(err, fs.ErrNotExist) {
		compressed := a.encoder.EncodeAll(entry.Raw, nil)
		if err := writeFileAtomic(streamPath, compressed); err != nil {
			return Record{}, fmt.Errorf("transcript: writing stream %s: %w", digest, err)
		}
		a.logger.Debug("transcript stream stored",
			"digest", record.Digest,
			"raw_size", record.RawSize,
			"compressed_size", len(compressed),
		)
	} else if err != nil {
		return Record{}, fmt.Errorf("transcript: %w", err)
	}

	encoded, err := codec.Marshal(record)
	if err != nil {
		return Record{}, fmt.Errorf("transcript: encoding record: %w", err)
	}
	if err := writeFileAtomic(a.recordPath(entry.JobID), encoded); err != nil {
		return Record{}, fmt.Errorf("transcript: writing record for job %s: %w", entry.JobID, err)
	}
	return record, nil
}

// Lookup returns the index record of a job.
func (a *Archive) Lookup(jobID string) (Record, error) {
	if !validJobID(jobID) {
		return Record{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	data, err := os.ReadFile(a.recordPath(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return Record{}, fmt.Errorf("transcript: %w", err)
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("%w: record for job %s: %v", ErrCorrupt, jobID, err)
	}
	return record, nil
}

// Load returns the index record and the raw stream of a job.
func (a *Archive) Load(jobID string) (Record, []byte, error) {
	record, err := a.Lookup(jobID)
	if err != nil {
		return Record{}, nil, err
	}
	digest, err := ParseDigest(record.Digest)
	if err != nil {
		return Record{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	compressed, err := os.ReadFile(a.streamPath(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, nil, fmt.Errorf("%w: stream %s missing", ErrCorrupt, digest)
	}
	if err != nil {
		return Record{}, nil, fmt.Errorf("transcript: %w", err)
	}
	raw, err := a.decoder.DecodeAll(compressed, make([]byte, 0, record.RawSize))
	if err != nil {
		return Record{}, nil, fmt.Errorf("%w: stream %s: %v", ErrCorrupt, digest, err)
	}
	if Hash(raw) != digest {
		return Record{}, nil, fmt.Errorf("%w: stream %s does not match its digest", ErrCorrupt, digest)
	}
	return record, raw, nil
}

// validJobID reports whether id is usable as a single file name.
func validJobID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

// writeFileAtomic writes data to a temporary file in the target
// directory and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	temporary := file.Name()
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporary)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temporary)
		return err
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return err
	}
	return nil
}
