// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for agentrelay components.
//
// Anything that stamps a job, ages a device, or runs a periodic sweep
// takes a Clock instead of calling the time package. Production wiring
// passes Real(); tests pass Fake() and move time with Advance:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := newEngine(fakeClock)
//	fakeClock.WaitForTimers(1) // reaper registered its ticker
//	fakeClock.Advance(30 * time.Minute)
package clock
