// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bureau-foundation/agentrelay/lib/agentcmd"
	"github.com/bureau-foundation/agentrelay/lib/devices"
	"github.com/bureau-foundation/agentrelay/lib/streamjson"
)

// Host key policies, the values of ssh's StrictHostKeyChecking.
const (
	HostKeyAcceptAny = "no"
	HostKeyAcceptNew = "accept-new"
	HostKeyStrict    = "yes"
)

// Defaults for RemoteConfig fields left zero.
const (
	DefaultSSHBinary      = "ssh"
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 120 * time.Second
	DefaultAgentPath      = "~/.local/bin/cursor-agent"
)

// ExchangeRecorder receives the advisory side effects of a successful
// remote run. *devices.Registry implements it.
type ExchangeRecorder interface {
	TouchLastSeen(ctx context.Context, deviceID string) error
	RecordExchange(ctx context.Context, chatID string, delta int, preview string) error
}

// RemoteConfig configures a Remote.
type RemoteConfig struct {
	// SSHBinary is the ssh client. Defaults to "ssh" on PATH.
	SSHBinary string

	// ConnectTimeout is passed as -o ConnectTimeout.
	ConnectTimeout time.Duration

	// CommandTimeout is the minimum end-to-end bound of a remote run.
	CommandTimeout time.Duration

	// DefaultAgentPath is used for devices without an agent path. A
	// leading "~/" is expanded by the remote shell.
	DefaultAgentPath string

	// HostKeyPolicy is one of the HostKey constants. Empty means
	// HostKeyAcceptNew. See the package documentation for the risk
	// of HostKeyAcceptAny.
	HostKeyPolicy string

	// KnownHostsFile, when set, is passed as -o UserKnownHostsFile.
	KnownHostsFile string

	// Recorder receives last-seen and message-count updates. Nil
	// skips them.
	Recorder ExchangeRecorder

	Logger *slog.Logger
}

// Remote runs commands on registered devices through the system ssh
// client. It is safe for concurrent use.
type Remote struct {
	sshBinary        string
	connectTimeout   time.Duration
	commandTimeout   time.Duration
	defaultAgentPath string
	hostKeyPolicy    string
	knownHostsFile   string
	recorder         ExchangeRecorder
	logger           *slog.Logger
}

// NewRemote creates a Remote. It rejects an unknown host key policy.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	remote := &Remote{
		sshBinary:        cfg.SSHBinary,
		connectTimeout:   cfg.ConnectTimeout,
		commandTimeout:   cfg.CommandTimeout,
		defaultAgentPath: cfg.DefaultAgentPath,
		hostKeyPolicy:    cfg.HostKeyPolicy,
		knownHostsFile:   cfg.KnownHostsFile,
		recorder:         cfg.Recorder,
		logger:           cfg.Logger,
	}
	if remote.sshBinary == "" {
		remote.sshBinary = DefaultSSHBinary
	}
	if remote.connectTimeout <= 0 {
		remote.connectTimeout = DefaultConnectTimeout
	}
	if remote.commandTimeout <= 0 {
		remote.commandTimeout = DefaultCommandTimeout
	}
	if remote.defaultAgentPath == "" {
		remote.defaultAgentPath = DefaultAgentPath
	}
	if remote.logger == nil {
		remote.logger = slog.New(slog.DiscardHandler)
	}
	switch remote.hostKeyPolicy {
	case "":
		remote.hostKeyPolicy = HostKeyAcceptNew
	case HostKeyAcceptNew, HostKeyStrict:
	case HostKeyAcceptAny:
		remote.logger.Warn("ssh host key checking disabled; devices can be impersonated",
			"host_key_policy", HostKeyAcceptAny)
	default:
		return nil, fmt.Errorf("dispatch: unknown host key policy %q", cfg.HostKeyPolicy)
	}
	return remote, nil
}

// agentPath returns the device's agent binary or the default.
func (r *Remote) agentPath(device devices.Device) string {
	if device.AgentPath != "" {
		return device.AgentPath
	}
	return r.defaultAgentPath
}

// sshArgv builds the full ssh command line for remoteCommand.
func (r *Remote) sshArgv(device devices.Device, remoteCommand string) []string {
	port := device.Port
	if port == 0 {
		port = devices.DefaultPort
	}
	argv := []string{
		r.sshBinary,
		"-o", "ConnectTimeout=" + strconv.Itoa(int(r.connectTimeout/time.Second)),
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=" + r.hostKeyPolicy,
	}
	if r.knownHostsFile != "" {
		argv = append(argv, "-o", "UserKnownHostsFile="+r.knownHostsFile)
	}
	return append(argv,
		"-p", strconv.Itoa(port),
		device.Address(),
		remoteCommand,
	)
}

func identify(device devices.Device) *DeviceIdentity {
	return &DeviceIdentity{ID: device.ID, Name: device.Name, Address: device.Address()}
}

// runRemote runs remoteCommand on device and converts every failure to
// a structured error, including a non-zero exit.
func (r *Remote) runRemote(ctx context.Context, device devices.Device, remoteCommand string, timeout time.Duration) (processOutput, error) {
	output, err := runProcess(ctx, processSpec{
		argv:    r.sshArgv(device, remoteCommand),
		timeout: timeout,
	})
	if errors.Is(err, errTimedOut) {
		return output, &TimeoutError{Timeout: timeout, Device: identify(device)}
	}
	var failure *FailureError
	if errors.As(err, &failure) {
		failure.Device = identify(device)
		return output, failure
	}
	if err != nil {
		return output, fmt.Errorf("dispatch: remote run on %s: %w", device.ID, err)
	}
	if output.exitCode != 0 {
		return output, &FailureError{
			ExitCode: output.exitCode,
			Stderr:   trimStderr(output.stderr),
			Device:   identify(device),
		}
	}
	return output, nil
}

// Bind returns a Dispatcher that runs on device inside
// workingDirectory.
func (r *Remote) Bind(device devices.Device, workingDirectory string) *Target {
	return &Target{remote: r, device: device, workingDirectory: workingDirectory}
}

// Target is a Remote bound to one device and directory.
type Target struct {
	remote           *Remote
	device           devices.Device
	workingDirectory string
}

// Device returns the bound device.
func (t *Target) Device() devices.Device {
	return t.device
}

// Dispatch runs the agent on the bound device. On success it touches
// the device's last-seen time and records the exchange on the remote
// chat; failures of those updates are logged, not returned.
func (t *Target) Dispatch(ctx context.Context, call Call) (Result, error) {
	remote := t.remote
	invocation, err := agentcmd.Build(remote.agentPath(t.device), call.Request)
	if err != nil {
		return Result{}, err
	}
	timeout := max(call.Timeout+remote.connectTimeout, remote.commandTimeout)
	logger := remote.logger.With(
		"session_id", call.Request.SessionID,
		"device_id", t.device.ID,
		"device_name", t.device.Name,
	)

	logger.Info("remote dispatch starting",
		"address", t.device.Address(),
		"port", t.device.Port,
		"model", invocation.Model,
		"prompt_length", len(call.Request.Prompt),
		"timeout", timeout,
	)

	output, err := remote.runRemote(ctx, t.device,
		agentcmd.RemoteCommand(invocation, t.workingDirectory), timeout)
	if err != nil {
		logger.Error("remote dispatch failed", "exit_code", output.exitCode, "duration", output.duration, "error", err)
		return Result{}, err
	}

	logger.Info("remote dispatch completed",
		"duration", output.duration,
		"stdout_bytes", len(output.stdout),
	)
	t.recordSuccess(ctx, call.Request.SessionID, output.stdout, logger)

	return Result{
		Stdout:   output.stdout,
		Stderr:   output.stderr,
		Model:    invocation.Model,
		DeviceID: t.device.ID,
		Duration: output.duration,
	}, nil
}

func (t *Target) recordSuccess(ctx context.Context, sessionID string, stdout []byte, logger *slog.Logger) {
	recorder := t.remote.recorder
	if recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := recorder.TouchLastSeen(ctx, t.device.ID); err != nil {
		logger.Warn("updating device last seen failed", "error", err)
	}
	parsed, _ := streamjson.Parse(stdout)
	if err := recorder.RecordExchange(ctx, sessionID, 2, devices.Preview(parsed.Text)); err != nil {
		logger.Warn("updating remote chat metadata failed", "error", err)
	}
}
