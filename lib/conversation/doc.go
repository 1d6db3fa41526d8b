// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation writes agent exchanges into the editor's chat
// database, a string-keyed table (cursorDiskKV) owned by another
// application.
//
// Two key families are used:
//
//	composerData:<session>          session metadata, including the
//	                                ordered list of turn headers
//	bubbleId:<session>:<turn>       one turn ("bubble") body
//
// The editor refuses to open a session if a bubble lacks any of a long
// list of fields, most of them empty collections. [Bubble.Encode]
// always emits the full skeleton, and [ValidateEncoded] checks the
// encoded bytes before anything is written; a validation failure is a
// programming error and wraps [ErrInvalidBubble].
//
// [Persister.Persist] writes the user turn, the assistant turn, and
// the metadata update in one IMMEDIATE transaction. A session that
// does not exist yet is created with minimal metadata; older sessions
// missing metadata fields are backfilled; fields this package does
// not know about are preserved.
package conversation
