// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentcmd builds command lines for the external coding agent.
//
// Every invocation has the same shape:
//
//	<agent> --print --force --model <model> --output-format stream-json --resume <session> <prompt>
//
// --print selects non-interactive mode, --force lets the agent run
// tools without confirmation, stream-json makes it emit one JSON event
// per line, and --resume ties the call to an existing conversation so
// the agent sees the prior turns.
//
// [Build] validates the request before anything runs: an unknown model
// or an empty prompt is a [ValidationError], never an execution
// failure. [RemoteCommand] renders the same invocation as a single
// shell string for ssh, prefixed with a cd into the session's working
// directory, with every token quoted.
package agentcmd
