// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of the agentrelay
// binaries. The variables are set at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/agentrelay/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"io"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
)

// Info is "<version> (<commit>[-dirty], <build time>)".
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Print writes the binary name, Info, and the Go toolchain and
// platform.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n  go: %s %s/%s\n", binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
