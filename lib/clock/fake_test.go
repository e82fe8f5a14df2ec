// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	fake := Fake(testEpoch)
	if !fake.Now().Equal(testEpoch) {
		t.Errorf("Now() = %v, want %v", fake.Now(), testEpoch)
	}
	fake.Advance(time.Minute)
	if !fake.Now().Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v", fake.Now())
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(10 * time.Second)) {
			t.Errorf("fired at %v", fired)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(testEpoch)
	var calls atomic.Int32
	timer := fake.AfterFunc(time.Minute, func() { calls.Add(1) })

	if !timer.Stop() {
		t.Fatal("Stop() = false for a pending timer")
	}
	fake.Advance(2 * time.Minute)
	if calls.Load() != 0 {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}
}

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	fake := Fake(testEpoch)
	var calls atomic.Int32
	fake.AfterFunc(time.Minute, func() { calls.Add(1) })

	fake.Advance(time.Hour)
	fake.Advance(time.Hour)
	if got := calls.Load(); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	fake := Fake(testEpoch)
	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("fire order = %v, want [1 2 3]", order)
	}
}

func TestWaitForTimers(t *testing.T) {
	fake := Fake(testEpoch)
	done := make(chan struct{})
	go func() {
		fake.Sleep(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
