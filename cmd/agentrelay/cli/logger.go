// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger returns a text logger when stderr is a terminal and a JSON
// logger otherwise, so piped output matches the service's log format.
func NewLogger(level slog.Level) *slog.Logger {
	return newLogger(os.Stderr, isTerminal(os.Stderr), level)
}

func newLogger(w io.Writer, terminal bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

func isTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}
