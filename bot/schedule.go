// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kucenk/termuxbot/lib/clock"
)

// Scheduler fires a callback at each top-of-hour boundary in a fixed
// timezone. It chains one-shot timers instead of using a periodic
// ticker: the first interval is generally shorter than an hour, and a
// periodic timer drifts relative to wall-clock boundaries.
//
// If the process was suspended across one or more boundaries, the
// pending timer fires late exactly once (the catch-up), and the next
// boundary is recomputed from the current wall clock. Missed hours are
// never replayed one by one.
type Scheduler struct {
	clock    clock.Clock
	location *time.Location
	logger   *slog.Logger

	mu         sync.Mutex
	timer      *clock.Timer
	generation int
	running    bool
	onTick     func(now time.Time)
}

// NewScheduler creates a stopped Scheduler announcing in the given
// fixed-offset location.
func NewScheduler(clk clock.Clock, location *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{clock: clk, location: location, logger: logger}
}

// Start arms the timer for the next hour boundary. Calling Start on a
// running Scheduler re-arms from the current wall clock, which neither
// double-fires a boundary already passed nor skips the next one. The
// callback runs on the timer goroutine; faults in it are contained
// and logged, never halting the chain.
func (s *Scheduler) Start(onTick func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.running = true
	s.onTick = onTick
	s.armLocked()
}

// Stop cancels the pending timer. Idempotent, safe if never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.running = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// armLocked schedules the next fire. The boundary is strictly in the
// future relative to the clock reading taken here.
func (s *Scheduler) armLocked() {
	now := s.clock.Now()
	next := NextBoundary(now, s.location)
	generation := s.generation
	s.timer = s.clock.AfterFunc(next.Sub(now), func() { s.tick(generation) })
	s.logger.Debug("hourly announcement armed", "next", next)
}

// tick runs one fire and re-arms. A Stop (or Stop/Start) that happened
// after this timer was armed bumps the generation; a stale tick then
// does nothing.
func (s *Scheduler) tick(generation int) {
	s.mu.Lock()
	if !s.running || generation != s.generation {
		s.mu.Unlock()
		return
	}
	onTick := s.onTick
	s.mu.Unlock()

	if err := s.fire(onTick); err != nil {
		s.logger.Error("hourly announcement failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || generation != s.generation {
		return
	}
	s.armLocked()
}

// fire invokes the callback with panic containment.
func (s *Scheduler) fire(onTick func(now time.Time)) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("bot: announcement callback panicked: %v", recovered)
		}
	}()
	onTick(s.clock.Now())
	return nil
}

// NextBoundary returns the first top-of-hour in location strictly
// after now.
func NextBoundary(now time.Time, location *time.Location) time.Time {
	local := now.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+1, 0, 0, 0, location)
}
