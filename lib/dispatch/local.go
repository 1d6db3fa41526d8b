// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
)

// DefaultLocalTimeout applies when neither the call nor the
// configuration sets one.
const DefaultLocalTimeout = 90 * time.Second

// LocalConfig configures a Local dispatcher.
type LocalConfig struct {
	// Binary is the agent executable.
	Binary string

	// WorkingDirectory is where the agent runs. Empty means the
	// service's working directory.
	WorkingDirectory string

	// Env is appended to the service's environment.
	Env []string

	// Timeout is the default bound. Zero means DefaultLocalTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Local runs the agent on this machine.
type Local struct {
	binary           string
	workingDirectory string
	env              []string
	timeout          time.Duration
	logger           *slog.Logger
}

// NewLocal creates a Local dispatcher.
func NewLocal(cfg LocalConfig) *Local {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	return &Local{
		binary:           cfg.Binary,
		workingDirectory: cfg.WorkingDirectory,
		env:              cfg.Env,
		timeout:          timeout,
		logger:           logger,
	}
}

// Dispatch runs the agent locally.
func (l *Local) Dispatch(ctx context.Context, call Call) (Result, error) {
	invocation, err := agentcmd.Build(l.binary, call.Request)
	if err != nil {
		return Result{}, err
	}
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = l.timeout
	}

	l.logger.Info("local dispatch starting",
		"session_id", call.Request.SessionID,
		"model", invocation.Model,
		"prompt_length", len(call.Request.Prompt),
		"timeout", timeout,
	)

	output, err := runProcess(ctx, processSpec{
		argv:    invocation.Argv(),
		dir:     l.workingDirectory,
		env:     l.env,
		timeout: timeout,
	})
	if errors.Is(err, errTimedOut) {
		l.logger.Error("local dispatch timed out",
			"session_id", call.Request.SessionID,
			"timeout", timeout,
		)
		return Result{}, &TimeoutError{Timeout: timeout}
	}
	if err != nil {
		return Result{}, err
	}
	if output.exitCode != 0 {
		l.logger.Error("local dispatch failed",
			"session_id", call.Request.SessionID,
			"exit_code", output.exitCode,
			"duration", output.duration,
		)
		return Result{}, &FailureError{ExitCode: output.exitCode, Stderr: trimStderr(output.stderr)}
	}

	l.logger.Info("local dispatch completed",
		"session_id", call.Request.SessionID,
		"duration", output.duration,
		"stdout_bytes", len(output.stdout),
	)
	return Result{
		Stdout:   output.stdout,
		Stderr:   output.stderr,
		Model:    invocation.Model,
		Duration: output.duration,
	}, nil
}
