// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only through Advance. It is
// safe for concurrent use.
type FakeClock struct {
	mu         sync.Mutex
	now        time.Time
	timers     []*timer
	registered *sync.Cond
}

// timer is one pending After channel or ticker.
type timer struct {
	due    time.Time
	out    chan time.Time
	period time.Duration // zero for one-shot timers
	dead   bool
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	clock := &FakeClock{now: start}
	clock.registered = sync.NewCond(&clock.mu)
	return clock
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(chan time.Time, 1)
	if d <= 0 {
		out <- c.now
		return out
	}
	c.addLocked(&timer{due: c.now.Add(d), out: out})
	return out
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker interval must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{due: c.now.Add(d), out: make(chan time.Time, 1), period: d}
	c.addLocked(t)
	return &Ticker{C: t.out, stop: func() {
		c.mu.Lock()
		t.dead = true
		c.mu.Unlock()
	}}
}

func (c *FakeClock) addLocked(t *timer) {
	c.timers = append(c.timers, t)
	c.registered.Broadcast()
}

// Advance moves time forward by d and fires, in due order, every timer
// that came due. A ticker fires at most once per call however many
// periods elapsed, as a real ticker with an unread channel would.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	c.timers = slices.DeleteFunc(c.timers, func(t *timer) bool { return t.dead })
	slices.SortStableFunc(c.timers, func(a, b *timer) int { return a.due.Compare(b.due) })

	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.due.After(c.now) {
			kept = append(kept, t)
			continue
		}
		select {
		case t.out <- t.due:
		default:
		}
		if t.period == 0 {
			continue
		}
		for !t.due.After(c.now) {
			t.due = t.due.Add(t.period)
		}
		kept = append(kept, t)
	}
	c.timers = kept
	c.registered.Broadcast()
}

// WaitForTimers blocks until n or more timers are live. Tests call it
// before Advance when the code under test starts its timer from
// another goroutine.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.liveLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount is the number of live timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked()
}

func (c *FakeClock) liveLocked() int {
	live := 0
	for _, t := range c.timers {
		if !t.dead {
			live++
		}
	}
	return live
}
