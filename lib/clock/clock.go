// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the bot performs: reading the
// wall clock, arming one-shot timers, and sleeping between reconnect
// attempts.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine. Returns a Timer whose Stop cancels the pending
	// call.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Timer is a scheduled one-shot call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
