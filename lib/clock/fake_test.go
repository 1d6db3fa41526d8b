// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()

	fakeClock := Fake(epoch)
	if got := fakeClock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	fakeClock.Advance(90 * time.Second)
	if got, want := fakeClock.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnDeadline(t *testing.T) {
	t.Parallel()

	fakeClock := Fake(epoch)
	channel := fakeClock.After(time.Minute)

	fakeClock.Advance(59 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fakeClock.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(time.Minute); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if count := fakeClock.PendingCount(); count != 0 {
		t.Errorf("PendingCount() = %d, want 0", count)
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	t.Parallel()

	select {
	case <-Fake(epoch).After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeTickerReschedules(t *testing.T) {
	t.Parallel()

	fakeClock := Fake(epoch)
	ticker := fakeClock.NewTicker(10 * time.Minute)

	for round := 1; round <= 3; round++ {
		fakeClock.Advance(10 * time.Minute)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("round %d: ticker did not fire", round)
		}
	}

	ticker.Stop()
	fakeClock.Advance(10 * time.Minute)
	select {
	case <-ticker.C:
		t.Error("stopped ticker fired")
	default:
	}
	if count := fakeClock.PendingCount(); count != 0 {
		t.Errorf("PendingCount() after Stop = %d, want 0", count)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()

	fakeClock := Fake(epoch)
	registered := make(chan (<-chan time.Time))
	go func() {
		registered <- fakeClock.After(time.Second)
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)
	channel := <-registered
	select {
	case <-channel:
	default:
		t.Fatal("After registered from another goroutine did not fire")
	}
}
