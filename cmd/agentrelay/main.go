// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// agentrelay is the operator CLI for agentrelay-service. Every command
// talks to the service over its Unix socket.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/agentrelay/cmd/agentrelay/cli"
	"github.com/bureau-foundation/agentrelay/lib/process"
)

func main() {
	if err := run(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp().root().Execute(ctx, os.Args[1:])
}
