// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that the
// hourly scheduler and the reconnect backoff can be tested without
// real waiting.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.AfterFunc, or time.Sleep directly. Real() provides
// standard library behavior; Fake() provides a deterministic clock
// that advances only when Advance is called.
//
// When a goroutine waits on a FakeClock, it registers a pending
// waiter. Tests call WaitForTimers to block until the expected number
// of waiters exist, then Advance to fire them, eliminating the race
// between timer registration and time advancement.
package clock
