// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs the agent for one prompt, on this machine or on
// a registered device over ssh.
//
// [Dispatcher] is the single capability the engine is written
// against. [Local] runs the agent binary as a child process; a
// [Remote] bound to a device and working directory with [Remote.Bind]
// runs the same invocation through the system ssh client, prefixed
// with a cd into the session's directory. Both return the raw
// stream-json stdout on exit code 0.
//
// Failures are structured. A run that exceeds its bound returns a
// [*TimeoutError] (matching [ErrTimeout]); a non-zero exit returns a
// [*FailureError] carrying the exit code, trimmed stderr, and for
// remote runs the device id, name, and address. Neither ever contains
// the command line, the environment, or key material.
//
// On timeout the whole process group is killed, so an ssh client or
// an agent that forked helpers does not outlive its bound. A caller
// cancelling ctx also stops the run; the engine deliberately detaches
// job cancellation from ctx because job cancellation is bookkeeping
// only.
//
// # Host key policy
//
// Remote runs pass -o BatchMode=yes and -o StrictHostKeyChecking with
// the configured policy. "no" accepts any host key, including a changed
// one, which lets a machine-in-the-middle impersonate a device and
// read every prompt sent to it. "accept-new" trusts a host on first
// contact only and refuses changed keys. "yes" requires the key to be
// present in known_hosts already. Deployments should prefer
// "accept-new" or "yes"; "no" exists for throwaway lab devices.
package dispatch
