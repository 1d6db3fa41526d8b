// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentcmd

import "strings"

// ShellQuote returns s quoted for a POSIX shell. Strings made only of
// characters with no special meaning are returned unchanged; anything
// else is wrapped in single quotes with embedded quotes written as
// '"'"'.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteExecutable quotes a command path, keeping a leading "~/" outside
// the quotes so tilde expansion still applies.
func QuoteExecutable(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return "~/" + ShellQuote(rest)
	}
	return ShellQuote(path)
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./-_", r):
		default:
			return false
		}
	}
	return true
}
