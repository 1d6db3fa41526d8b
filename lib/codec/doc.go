// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by the service
// socket protocol and the transcript index.
//
// JSON remains the format for anything a person or a foreign program
// reads: CLI output, the conversation store, the agent's event stream.
// CBOR is used between agentrelay's own processes and for its own
// on-disk records. Types that cross both boundaries carry json tags
// only; fxamacker/cbor falls back to them when no cbor tag is present.
package codec
