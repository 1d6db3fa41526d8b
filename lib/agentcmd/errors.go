// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcmd

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrEmptySession = errors.New("session id is empty")
)

// ValidationError rejects a request before it reaches an agent.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
