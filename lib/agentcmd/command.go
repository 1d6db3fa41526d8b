// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcmd

import (
	"strings"
)

// Request is what the caller wants the agent to do.
type Request struct {
	// SessionID is the conversation to resume.
	SessionID string

	// Prompt is the user message, passed as the final argument.
	Prompt string

	// Model selects the agent's model. Empty means DefaultModel.
	Model string
}

// Invocation is a validated command line.
type Invocation struct {
	// Binary is the agent executable, local path or remote path.
	Binary string

	// Args are the arguments after Binary.
	Args []string

	// Model is the model the invocation selects.
	Model string
}

// Argv returns Binary followed by Args.
func (invocation Invocation) Argv() []string {
	return append([]string{invocation.Binary}, invocation.Args...)
}

// Build validates request and assembles the agent command line.
func Build(binary string, request Request) (Invocation, error) {
	if strings.TrimSpace(request.SessionID) == "" {
		return Invocation{}, &ValidationError{Field: "session_id", Err: ErrEmptySession}
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return Invocation{}, &ValidationError{Field: "prompt", Err: ErrEmptyPrompt}
	}

	model := request.Model
	if model == "" {
		model = DefaultModel
	}
	if err := ValidateModel(model); err != nil {
		return Invocation{}, err
	}

	return Invocation{
		Binary: binary,
		Args: []string{
			"--print",
			"--force",
			"--model", model,
			"--output-format", "stream-json",
			"--resume", request.SessionID,
			request.Prompt,
		},
		Model: model,
	}, nil
}

// RemoteCommand renders invocation as one shell command that first
// changes into workingDirectory. Every token is quoted; a leading "~/"
// on the binary is left bare so the remote shell expands it.
func RemoteCommand(invocation Invocation, workingDirectory string) string {
	var builder strings.Builder
	builder.WriteString("cd ")
	builder.WriteString(ShellQuote(workingDirectory))
	builder.WriteString(" && ")
	builder.WriteString(QuoteExecutable(invocation.Binary))
	for _, argument := range invocation.Args {
		builder.WriteByte(' ')
		builder.WriteString(ShellQuote(argument))
	}
	return builder.String()
}
