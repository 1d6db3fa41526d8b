// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
)

// Call is one agent run.
type Call struct {
	Request agentcmd.Request

	// Timeout bounds the agent. Zero means the dispatcher's default.
	// Remote dispatchers extend it to cover connection latency.
	Timeout time.Duration
}

// Result is the output of a run that exited 0.
type Result struct {
	// Stdout is the raw stream-json output.
	Stdout []byte

	// Stderr is whatever the agent (or ssh) printed, untrimmed.
	Stderr []byte

	// Model is the model the run used after defaulting.
	Model string

	// DeviceID is set for remote runs.
	DeviceID string

	Duration time.Duration
}

// Dispatcher runs the agent for one call. Implementations validate the
// request with agentcmd.Build before starting anything, so a
// validation error is always an *agentcmd.ValidationError or
// agentcmd.ErrUnknownModel and nothing was run.
type Dispatcher interface {
	Dispatch(ctx context.Context, call Call) (Result, error)
}
