// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout matches every TimeoutError.
var ErrTimeout = errors.New("dispatch timed out")

// DeviceIdentity names the device a remote failure happened on.
type DeviceIdentity struct {
	ID      string
	Name    string
	Address string
}

func (identity *DeviceIdentity) String() string {
	return fmt.Sprintf("%s (%s, %s)", identity.Name, identity.ID, identity.Address)
}

// TimeoutError reports a run that exceeded its bound. The process
// group was killed.
type TimeoutError struct {
	Timeout time.Duration

	// Device is nil for local runs.
	Device *DeviceIdentity
}

func (e *TimeoutError) Error() string {
	if e.Device != nil {
		return fmt.Sprintf("remote agent on %s timed out after %s; the device may be slow or unreachable, retry later", e.Device, e.Timeout)
	}
	return fmt.Sprintf("agent timed out after %s; retry, or submit as a background job for a longer bound", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// sshConnectionFailure is the exit status ssh uses for its own errors,
// as opposed to the remote command's.
const sshConnectionFailure = 255

// maxStderr bounds the stderr carried in a FailureError.
const maxStderr = 500

// FailureError reports a run that could not start or exited non-zero.
type FailureError struct {
	// ExitCode is -1 when the process never ran.
	ExitCode int

	// Stderr is the trimmed, truncated standard error.
	Stderr string

	// Device is nil for local runs.
	Device *DeviceIdentity

	// Err is the underlying start or wait error, if any.
	Err error
}

func (e *FailureError) Error() string {
	var builder strings.Builder
	if e.Device != nil {
		fmt.Fprintf(&builder, "remote agent on %s", e.Device)
	} else {
		builder.WriteString("agent")
	}
	switch {
	case e.ExitCode < 0:
		builder.WriteString(" failed to start")
		if e.Err != nil {
			fmt.Fprintf(&builder, ": %v", e.Err)
		}
	case e.Device != nil && e.ExitCode == sshConnectionFailure:
		builder.WriteString(": ssh connection failed (check network, port, and key authentication)")
	default:
		fmt.Fprintf(&builder, " exited with code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&builder, ": %s", e.Stderr)
	}
	return builder.String()
}

func (e *FailureError) Unwrap() error { return e.Err }

func trimStderr(stderr []byte) string {
	trimmed := strings.TrimSpace(string(stderr))
	if len(trimmed) > maxStderr {
		trimmed = trimmed[:maxStderr] + "..."
	}
	return trimmed
}
