// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the process with Code without printing anything more;
// the command has already reported the outcome, e.g. a device check
// that found the host unreachable.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main to tell handled exits from errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}
