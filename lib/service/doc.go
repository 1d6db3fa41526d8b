// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is agentrelay's front door: a CBOR request-response
// protocol on a Unix socket, a client for it, and the action handlers
// that connect it to the engine and the device registry.
//
// Each connection carries exactly one request and one response. A
// request is a CBOR map with an "action" field plus action-specific
// fields; a response is {ok, error?, data?}. CBOR is self-delimiting,
// so no framing is needed.
//
// The socket file is created with mode 0600. There is no other
// authentication: whoever can open the socket can submit jobs that run
// the agent with the service's privileges.
package service
