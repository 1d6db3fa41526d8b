// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devices is the registry of SSH-reachable hosts that run the
// agent, and of the remote chats bound to them.
//
// A session whose id appears in the remote_chats table is remote: the
// engine resolves its device and working directory through
// [Registry.ResolveSessionBinding], [Registry.ResolveDevice], and
// [Registry.GetWorkingDirectory]. Every other session is local.
//
// Device status is derived on read from last_seen (see
// [DeriveStatus]); the only write the dispatch path makes is
// [Registry.TouchLastSeen] after successful contact, plus the advisory
// message count and preview in [Registry.RecordExchange]. Neither is
// transactional with the conversation write.
//
// Timestamps are stored as Unix milliseconds.
package devices
