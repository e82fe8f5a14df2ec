// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"strings"
	"sync"

	"github.com/kucenk/termuxbot/lib/ref"
)

// Tracker maintains per-room occupant sets and answers "is this
// occupant new?". It holds no authority over membership: the server
// does. On reconnect, rooms are reset so membership is rebuilt from
// fresh server state rather than assumed stale-valid.
//
// Occupant identity is compared case-insensitively. The caller filters
// the bot's own identity before events reach the tracker.
type Tracker struct {
	mu    sync.Mutex
	rooms map[ref.RoomID]map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[ref.RoomID]map[string]struct{})}
}

// OnJoin records occupant as present in room. Reports true when the
// occupant was not already known (the caller welcomes them). Duplicate
// join notifications are idempotent: the second and later report
// false.
func (t *Tracker) OnJoin(room ref.RoomID, occupant ref.UserID) bool {
	key := occupantKey(occupant)

	t.mu.Lock()
	defer t.mu.Unlock()

	occupants, ok := t.rooms[room]
	if !ok {
		occupants = make(map[string]struct{})
		t.rooms[room] = occupants
	}
	if _, present := occupants[key]; present {
		return false
	}
	occupants[key] = struct{}{}
	return true
}

// OnLeave removes occupant from room. Removing an absent occupant is
// a silent no-op.
func (t *Tracker) OnLeave(room ref.RoomID, occupant ref.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if occupants, ok := t.rooms[room]; ok {
		delete(occupants, occupantKey(occupant))
	}
}

// ResetRoom clears the occupant set for room. Used on reconnect: the
// new session starts with an unknown membership picture.
func (t *Tracker) ResetRoom(room ref.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, room)
}

// OccupantCount returns the number of known occupants in room.
func (t *Tracker) OccupantCount(room ref.RoomID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[room])
}

func occupantKey(occupant ref.UserID) string {
	return strings.ToLower(occupant.String())
}
