// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processWaitDelay bounds how long Wait keeps reading pipes after the
// process group was killed. A grandchild that escaped the group could
// otherwise hold stdout open forever.
const processWaitDelay = 2 * time.Second

type processSpec struct {
	argv    []string
	dir     string
	env     []string
	timeout time.Duration
}

type processOutput struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	duration time.Duration
}

// errTimedOut is internal; callers convert it to a TimeoutError with
// their own identity.
var errTimedOut = errors.New("timed out")

// runProcess runs spec to completion. A non-zero exit is not an error:
// the caller inspects exitCode. The error is errTimedOut, the parent
// context's error, or a *FailureError for a process that never ran.
func runProcess(ctx context.Context, spec processSpec) (processOutput, error) {
	runContext, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	command := exec.CommandContext(runContext, spec.argv[0], spec.argv[1:]...)
	command.Dir = spec.dir
	if spec.env != nil {
		command.Env = append(os.Environ(), spec.env...)
	}
	command.Stdin = nil
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	command.Cancel = func() error {
		return unix.Kill(-command.Process.Pid, unix.SIGKILL)
	}
	command.WaitDelay = processWaitDelay

	started := time.Now()
	err := command.Run()
	output := processOutput{
		stdout:   stdout.Bytes(),
		stderr:   stderr.Bytes(),
		exitCode: command.ProcessState.ExitCode(),
		duration: time.Since(started),
	}

	if runContext.Err() != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		return output, errTimedOut
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, nil
		}
		if command.ProcessState == nil {
			output.exitCode = -1
			return output, &FailureError{ExitCode: -1, Err: err}
		}
		// ErrWaitDelay after a clean exit: the output is complete
		// enough to use.
		if errors.Is(err, exec.ErrWaitDelay) {
			return output, nil
		}
		return output, err
	}
	return output, nil
}
