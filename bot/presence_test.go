// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"testing"

	"github.com/kucenk/termuxbot/lib/ref"
)

func testRoom(t *testing.T, raw string) ref.RoomID {
	t.Helper()
	room, err := ref.ParseRoomID(raw)
	if err != nil {
		t.Fatalf("ParseRoomID(%q) failed: %v", raw, err)
	}
	return room
}

func testUser(t *testing.T, raw string) ref.UserID {
	t.Helper()
	user, err := ref.ParseUserID(raw)
	if err != nil {
		t.Fatalf("ParseUserID(%q) failed: %v", raw, err)
	}
	return user
}

func TestTrackerJoinLeave(t *testing.T) {
	tracker := NewTracker()
	room := testRoom(t, "!room1:test.local")
	alice := testUser(t, "@alice:test.local")
	bob := testUser(t, "@bob:test.local")

	if !tracker.OnJoin(room, alice) {
		t.Error("first join should be new")
	}
	if tracker.OnJoin(room, alice) {
		t.Error("duplicate join should not be new")
	}
	if !tracker.OnJoin(room, bob) {
		t.Error("different occupant should be new")
	}
	if tracker.OccupantCount(room) != 2 {
		t.Errorf("expected 2 occupants, got %d", tracker.OccupantCount(room))
	}

	tracker.OnLeave(room, alice)
	if tracker.OccupantCount(room) != 1 {
		t.Errorf("expected 1 occupant after leave, got %d", tracker.OccupantCount(room))
	}

	// Leaving twice is a silent no-op.
	tracker.OnLeave(room, alice)
	if tracker.OccupantCount(room) != 1 {
		t.Errorf("expected 1 occupant after double leave, got %d", tracker.OccupantCount(room))
	}

	// Rejoining after a leave is new again.
	if !tracker.OnJoin(room, alice) {
		t.Error("rejoin after leave should be new")
	}
}

func TestTrackerCaseInsensitiveOccupants(t *testing.T) {
	tracker := NewTracker()
	room := testRoom(t, "!room1:test.local")

	if !tracker.OnJoin(room, testUser(t, "@Alice:test.local")) {
		t.Error("first join should be new")
	}
	if tracker.OnJoin(room, testUser(t, "@alice:test.local")) {
		t.Error("same occupant in different case should not be new")
	}
}

func TestTrackerRoomsAreIndependent(t *testing.T) {
	tracker := NewTracker()
	room1 := testRoom(t, "!room1:test.local")
	room2 := testRoom(t, "!room2:test.local")
	alice := testUser(t, "@alice:test.local")

	if !tracker.OnJoin(room1, alice) {
		t.Error("join in room1 should be new")
	}
	if !tracker.OnJoin(room2, alice) {
		t.Error("join in room2 should be new despite room1 membership")
	}

	tracker.ResetRoom(room1)
	if tracker.OccupantCount(room2) != 1 {
		t.Error("resetting room1 must not touch room2")
	}
}

func TestTrackerResetForgetsOccupants(t *testing.T) {
	tracker := NewTracker()
	room := testRoom(t, "!room1:test.local")
	alice := testUser(t, "@alice:test.local")

	tracker.OnJoin(room, alice)
	tracker.ResetRoom(room)

	// Post-reconnect, prior membership is not remembered.
	if !tracker.OnJoin(room, alice) {
		t.Error("join after reset should be new")
	}
}

func TestTrackerReplayMatchesNaiveModel(t *testing.T) {
	tracker := NewTracker()
	room := testRoom(t, "!room1:test.local")

	type event struct {
		user string
		join bool
	}
	replay := []event{
		{"@a:test.local", true},
		{"@b:test.local", true},
		{"@a:test.local", true}, // duplicate
		{"@b:test.local", false},
		{"@c:test.local", true},
		{"@b:test.local", false}, // absent
		{"@a:test.local", false},
	}

	naive := make(map[string]bool)
	newSignals := 0
	for _, ev := range replay {
		user := testUser(t, ev.user)
		if ev.join {
			if tracker.OnJoin(room, user) {
				newSignals++
			}
			naive[ev.user] = true
		} else {
			tracker.OnLeave(room, user)
			delete(naive, ev.user)
		}
	}

	if tracker.OccupantCount(room) != len(naive) {
		t.Errorf("tracker has %d occupants, naive model has %d", tracker.OccupantCount(room), len(naive))
	}
	if newSignals != 3 {
		t.Errorf("expected 3 new-occupant signals, got %d", newSignals)
	}
}
