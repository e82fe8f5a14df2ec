// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"testing"
	"time"

	"github.com/kucenk/termuxbot/lib/clock"
)

var jakarta = time.FixedZone("GMT+7", 7*3600)

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  string
		want string
	}{
		{"mid hour", "2026-08-29T10:30:00+07:00", "2026-08-29T11:00:00+07:00"},
		{"exact top of hour", "2026-08-29T10:00:00+07:00", "2026-08-29T11:00:00+07:00"},
		{"just before boundary", "2026-08-29T10:59:59+07:00", "2026-08-29T11:00:00+07:00"},
		{"day rollover", "2026-08-29T23:40:00+07:00", "2026-08-30T00:00:00+07:00"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, test.now)
			if err != nil {
				t.Fatalf("parsing %q: %v", test.now, err)
			}
			want, err := time.Parse(time.RFC3339, test.want)
			if err != nil {
				t.Fatalf("parsing %q: %v", test.want, err)
			}
			got := NextBoundary(now, jakarta)
			if !got.Equal(want) {
				t.Errorf("NextBoundary(%s) = %s, want %s", test.now, got, want)
			}
		})
	}
}

func TestSchedulerFiresAtConsecutiveBoundaries(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 30, 0, 0, jakarta)
	fake := clock.Fake(start)
	scheduler := NewScheduler(fake, jakarta, nil)

	var fires []time.Time
	scheduler.Start(func(now time.Time) { fires = append(fires, now) })
	defer scheduler.Stop()

	// First interval is the partial half hour, then full hours.
	fake.Advance(30 * time.Minute)
	fake.Advance(time.Hour)
	fake.Advance(time.Hour)

	if len(fires) != 3 {
		t.Fatalf("expected 3 fires, got %d", len(fires))
	}
	for i, hour := range []int{11, 12, 13} {
		want := time.Date(2026, 8, 29, hour, 0, 0, 0, jakarta)
		if !fires[i].Equal(want) {
			t.Errorf("fire %d at %s, want %s", i, fires[i].In(jakarta), want)
		}
	}
}

func TestSchedulerCatchUpAfterSuspension(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 30, 0, 0, jakarta)
	fake := clock.Fake(start)
	scheduler := NewScheduler(fake, jakarta, nil)

	fires := 0
	scheduler.Start(func(time.Time) { fires++ })
	defer scheduler.Stop()

	// The process sleeps across three boundaries. The pending timer
	// fires late exactly once, then the chain realigns to the next
	// future boundary.
	fake.Advance(3 * time.Hour)
	if fires != 1 {
		t.Fatalf("expected a single catch-up fire, got %d", fires)
	}

	// Realigned: 13:30 now, next fire at 14:00.
	fake.Advance(30 * time.Minute)
	if fires != 2 {
		t.Errorf("expected realigned fire at next boundary, got %d fires", fires)
	}
}

func TestSchedulerStopStartNoDoubleFire(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 30, 0, 0, jakarta)
	fake := clock.Fake(start)
	scheduler := NewScheduler(fake, jakarta, nil)

	fires := 0
	scheduler.Start(func(time.Time) { fires++ })

	// Stop and restart before the boundary, as a reconnect does.
	fake.Advance(10 * time.Minute)
	scheduler.Stop()
	scheduler.Start(func(time.Time) { fires++ })

	fake.Advance(20 * time.Minute)
	if fires != 1 {
		t.Errorf("expected exactly one fire at the boundary, got %d", fires)
	}

	fake.Advance(time.Hour)
	if fires != 2 {
		t.Errorf("restart must not skip the following boundary, got %d fires", fires)
	}
	scheduler.Stop()
}

func TestSchedulerStopCancelsPendingTimer(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 30, 0, 0, jakarta)
	fake := clock.Fake(start)
	scheduler := NewScheduler(fake, jakarta, nil)

	fires := 0
	scheduler.Start(func(time.Time) { fires++ })
	scheduler.Stop()

	fake.Advance(2 * time.Hour)
	if fires != 0 {
		t.Errorf("stopped scheduler must not fire, got %d", fires)
	}

	// Stop is idempotent and safe when never started.
	scheduler.Stop()
	NewScheduler(fake, jakarta, nil).Stop()
}

func TestSchedulerSurvivesCallbackPanic(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 30, 0, 0, jakarta)
	fake := clock.Fake(start)
	scheduler := NewScheduler(fake, jakarta, nil)

	fires := 0
	scheduler.Start(func(time.Time) {
		fires++
		if fires == 1 {
			panic("announcement bug")
		}
	})
	defer scheduler.Stop()

	fake.Advance(30 * time.Minute)
	fake.Advance(time.Hour)
	if fires != 2 {
		t.Errorf("one failed tick must not halt the chain, got %d fires", fires)
	}
}
