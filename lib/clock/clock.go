// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package agentrelay depends on.
type Clock interface {
	Now() time.Time

	// After fires once, d from now. A non-positive d fires at once.
	After(d time.Duration) <-chan time.Time

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. A tick is dropped when the
// previous one has not been received.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns the ticker off without closing C.
func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock.
func Real() Clock { return wallClock{} }

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (wallClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
