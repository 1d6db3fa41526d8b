// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/devices"
)

const (
	connectionMarker = "connection_test_ok"
	probeTimeout     = 10 * time.Second
	createChatBound  = 15 * time.Second
	connectionSlack  = 5 * time.Second
)

// ErrProbeFailed is returned when a probe ran but its answer was
// negative (missing marker, missing directory).
var ErrProbeFailed = errors.New("probe failed")

// CheckConnection runs a trivial command on device. It succeeds only
// if ssh exits 0 and the marker comes back. On success it touches the
// device's last-seen time.
func (r *Remote) CheckConnection(ctx context.Context, device devices.Device) error {
	output, err := r.runRemote(ctx, device, "echo '"+connectionMarker+"'", r.connectTimeout+connectionSlack)
	if err != nil {
		return err
	}
	if !strings.Contains(string(output.stdout), connectionMarker) {
		return fmt.Errorf("dispatch: %s: unexpected response: %w", device.Address(), ErrProbeFailed)
	}
	if r.recorder != nil {
		if err := r.recorder.TouchLastSeen(context.WithoutCancel(ctx), device.ID); err != nil {
			r.logger.Warn("updating device last seen failed", "device_id", device.ID, "error", err)
		}
	}
	return nil
}

// AgentInfo describes the agent installation on a device.
type AgentInfo struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// VerifyAgent runs the device's agent with --version.
func (r *Remote) VerifyAgent(ctx context.Context, device devices.Device) (AgentInfo, error) {
	path := r.agentPath(device)
	output, err := r.runRemote(ctx, device, agentcmd.QuoteExecutable(path)+" --version", probeTimeout)
	if err != nil {
		return AgentInfo{Path: path}, err
	}
	return AgentInfo{Path: path, Version: strings.TrimSpace(string(output.stdout))}, nil
}

// VerifyDirectory reports whether directory exists on device.
func (r *Remote) VerifyDirectory(ctx context.Context, device devices.Device, directory string) (bool, error) {
	quoted := agentcmd.ShellQuote(directory)
	output, err := r.runRemote(ctx, device, "test -d "+quoted+" && echo 'exists' || echo 'not_found'", probeTimeout)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(output.stdout)) == "exists", nil
}

// DirectoryEntry is one line of a remote directory listing.
type DirectoryEntry struct {
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
	IsDirectory bool   `json:"is_directory"`
}

// ListDirectory lists directory on device, including dotfiles. The
// "." and ".." entries are omitted.
func (r *Remote) ListDirectory(ctx context.Context, device devices.Device, directory string) ([]DirectoryEntry, error) {
	output, err := r.runRemote(ctx, device, "ls -la "+agentcmd.ShellQuote(directory), probeTimeout)
	if err != nil {
		return nil, err
	}
	return parseListing(string(output.stdout)), nil
}

// parseListing reads `ls -la` output. The first line is the "total"
// summary; names may contain spaces.
func parseListing(listing string) []DirectoryEntry {
	var entries []DirectoryEntry
	lines := strings.Split(strings.TrimSpace(listing), "\n")
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		// Re-split with a field limit so names keep their spaces.
		parts := splitFields(line, 9)
		name := parts[8]
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, DirectoryEntry{
			Name:        name,
			Permissions: parts[0],
			IsDirectory: strings.HasPrefix(parts[0], "d"),
		})
	}
	return entries
}

// splitFields splits on runs of spaces into at most n fields; the last
// field keeps the rest of the line.
func splitFields(line string, n int) []string {
	var fields []string
	rest := strings.TrimLeft(line, " ")
	for len(fields) < n-1 {
		index := strings.IndexByte(rest, ' ')
		if index < 0 {
			break
		}
		fields = append(fields, rest[:index])
		rest = strings.TrimLeft(rest[index:], " ")
	}
	return append(fields, rest)
}

// CreateRemoteChat asks the device's agent for a new chat in directory
// and returns its id.
func (r *Remote) CreateRemoteChat(ctx context.Context, device devices.Device, directory string) (string, error) {
	command := "cd " + agentcmd.ShellQuote(directory) + " && " + agentcmd.QuoteExecutable(r.agentPath(device)) + " create-chat"
	output, err := r.runRemote(ctx, device, command, createChatBound)
	if err != nil {
		return "", err
	}
	chatID := strings.TrimSpace(string(output.stdout))
	if chatID == "" {
		return "", fmt.Errorf("dispatch: %s returned no chat id: %w", device.Address(), ErrProbeFailed)
	}
	return chatID, nil
}
