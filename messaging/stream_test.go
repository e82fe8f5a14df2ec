// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kucenk/termuxbot/lib/testutil"
)

// fakeHomeserver scripts a minimal Matrix homeserver: login always
// succeeds, /sync serves the queued bodies in order, and other
// endpoints return canned responses. Once the sync script is
// exhausted, further syncs either fail (failAfterScript) or block
// until the request is cancelled, emulating a quiet long-poll.
type fakeHomeserver struct {
	t               *testing.T
	failAfterScript bool
	whoamiDelay     time.Duration

	mu         sync.Mutex
	syncBodies []string
}

func (f *fakeHomeserver) popSync() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.syncBodies) == 0 {
		return "", false
	}
	body := f.syncBodies[0]
	f.syncBodies = f.syncBodies[1:]
	return body, true
}

func (f *fakeHomeserver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	path := request.URL.Path
	switch {
	case path == "/_matrix/client/v3/login":
		writeJSON(writer, map[string]string{
			"user_id":      "@bot:test.local",
			"access_token": "syt_bot_token",
			"device_id":    "DEV1",
		})

	case path == "/_matrix/client/v3/sync":
		body, ok := f.popSync()
		if !ok {
			if f.failAfterScript {
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(http.StatusBadGateway)
				json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeUnknown, Message: "backend unreachable"})
				return
			}
			// Quiet long-poll: hold until the client gives up.
			<-request.Context().Done()
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(body))

	case path == "/_matrix/client/v3/account/whoami":
		if f.whoamiDelay > 0 {
			select {
			case <-time.After(f.whoamiDelay):
			case <-request.Context().Done():
				return
			}
		}
		writeJSON(writer, map[string]string{"user_id": "@bot:test.local"})

	case strings.HasPrefix(path, "/_matrix/client/v3/directory/room/"):
		writeJSON(writer, map[string]any{"room_id": "!lobby:test.local", "servers": []string{"test.local"}})

	case strings.HasPrefix(path, "/_matrix/client/v3/join/"):
		writeJSON(writer, map[string]string{"room_id": "!lobby:test.local"})

	case strings.HasSuffix(path, "/joined_members"):
		writeJSON(writer, map[string]any{
			"joined": map[string]any{
				"@bot:test.local":   map[string]any{"display_name": "bot"},
				"@alice:test.local": map[string]any{},
			},
		})

	case strings.Contains(path, "/send/m.room.message/"):
		writeJSON(writer, SendEventResponse{EventID: "$sent"})

	default:
		f.t.Errorf("unexpected request: %s %s", request.Method, path)
		writer.WriteHeader(http.StatusNotFound)
	}
}

// newTestConn starts the fake homeserver and creates a Conn against it.
func newTestConn(t *testing.T, homeserver *fakeHomeserver, pingTimeout time.Duration) *Conn {
	t.Helper()
	server := httptest.NewServer(homeserver)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	conn, err := NewConn(ConnConfig{
		Client:      client,
		UserID:      mustUserID(t, "@bot:test.local"),
		Password:    testBuffer(t, "hunter2"),
		PingTimeout: pingTimeout,
	})
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn.Disconnect(ctx)
	})
	return conn
}

const emptySync = `{"next_batch": "anchor"}`

func TestConnEventPump(t *testing.T) {
	// The scripted sync carries, after the anchor: a state join for
	// bob, a message from alice, an echoed message from the bot
	// itself, the bot's own membership event, and a leave for carol.
	// The bot's own events must never surface.
	homeserver := &fakeHomeserver{t: t, syncBodies: []string{
		emptySync,
		`{
			"next_batch": "s2",
			"rooms": {"join": {"!room1:test.local": {
				"state": {"events": [
					{"event_id": "$m1", "type": "m.room.member", "sender": "@bob:test.local",
					 "state_key": "@bob:test.local", "content": {"membership": "join"}},
					{"event_id": "$m2", "type": "m.room.member", "sender": "@bot:test.local",
					 "state_key": "@bot:test.local", "content": {"membership": "join"}}
				]},
				"timeline": {"events": [
					{"event_id": "$e1", "type": "m.room.message", "sender": "@alice:test.local",
					 "content": {"msgtype": "m.text", "body": "hello bot"}},
					{"event_id": "$e2", "type": "m.room.message", "sender": "@BOT:test.local",
					 "content": {"msgtype": "m.text", "body": "echo"}},
					{"event_id": "$m3", "type": "m.room.member", "sender": "@carol:test.local",
					 "state_key": "@carol:test.local", "content": {"membership": "leave"}}
				]}
			}}}
		}`,
	}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := conn.Events()

	start := testutil.RequireReceive(t, events, time.Second, "session start")
	if start.Kind != EventSessionStart {
		t.Fatalf("expected session start, got %v", start.Kind)
	}

	presence := testutil.RequireReceive(t, events, time.Second, "bob joins")
	if presence.Kind != EventRoomPresence || !presence.Joined {
		t.Fatalf("expected join presence, got %+v", presence)
	}
	if presence.Sender.String() != "@bob:test.local" {
		t.Errorf("unexpected occupant: %s", presence.Sender)
	}
	if presence.Room.String() != "!room1:test.local" {
		t.Errorf("unexpected room: %s", presence.Room)
	}

	message := testutil.RequireReceive(t, events, time.Second, "alice message")
	if message.Kind != EventMessage {
		t.Fatalf("expected message, got %v", message.Kind)
	}
	if message.Body != "hello bot" {
		t.Errorf("unexpected body: %q", message.Body)
	}
	if message.Sender.String() != "@alice:test.local" {
		t.Errorf("unexpected sender: %s", message.Sender)
	}

	leave := testutil.RequireReceive(t, events, time.Second, "carol leaves")
	if leave.Kind != EventRoomPresence || leave.Joined {
		t.Fatalf("expected leave presence, got %+v", leave)
	}
	if leave.Sender.String() != "@carol:test.local" {
		t.Errorf("unexpected occupant: %s", leave.Sender)
	}

	// The bot's own message and membership were filtered; the pump is
	// now parked in the quiet long-poll.
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "no echo events")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	testutil.RequireNoReceive(t, events, 50*time.Millisecond, "no events after disconnect")
}

func TestConnInviteEvent(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, syncBodies: []string{
		emptySync,
		`{"next_batch": "s2", "rooms": {"invite": {"!inviteroom:test.local": {}}}}`,
	}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := conn.Events()
	start := testutil.RequireReceive(t, events, time.Second, "session start")
	if start.Kind != EventSessionStart {
		t.Fatalf("expected session start, got %v", start.Kind)
	}
	invite := testutil.RequireReceive(t, events, time.Second, "invite")
	if invite.Kind != EventInvite {
		t.Fatalf("expected invite, got %v", invite.Kind)
	}
	if invite.Room.String() != "!inviteroom:test.local" {
		t.Errorf("unexpected room: %s", invite.Room)
	}
}

func TestConnDisconnectedAfterSyncFailures(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, failAfterScript: true, syncBodies: []string{emptySync}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := conn.Events()
	start := testutil.RequireReceive(t, events, time.Second, "session start")
	if start.Kind != EventSessionStart {
		t.Fatalf("expected session start, got %v", start.Kind)
	}

	// All subsequent syncs fail; the pump retries a bounded number of
	// times and then reports the loss.
	down := testutil.RequireReceive(t, events, 5*time.Second, "disconnected")
	if down.Kind != EventDisconnected {
		t.Fatalf("expected disconnected, got %v", down.Kind)
	}
	if down.Err == nil {
		t.Error("disconnected event should carry the sync error")
	}
}

func TestConnNotConnected(t *testing.T) {
	homeserver := &fakeHomeserver{t: t}
	conn := newTestConn(t, homeserver, 0)

	room := mustRoomID(t, "!room1:test.local")
	if err := conn.SendMessage(context.Background(), room, "hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendMessage before connect: expected ErrNotConnected, got %v", err)
	}
	if _, err := conn.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping before connect: expected ErrNotConnected, got %v", err)
	}
	if _, err := conn.JoinRoom(context.Background(), "!room1:test.local"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("JoinRoom before connect: expected ErrNotConnected, got %v", err)
	}
	if _, err := conn.RoomMembers(context.Background(), room); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RoomMembers before connect: expected ErrNotConnected, got %v", err)
	}
}

func TestConnRoomMembers(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, syncBodies: []string{emptySync}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	members, err := conn.RoomMembers(context.Background(), mustRoomID(t, "!room1:test.local"))
	if err != nil {
		t.Fatalf("RoomMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d: %v", len(members), members)
	}
}

func TestConnJoinRoom(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, syncBodies: []string{emptySync}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	t.Run("by alias", func(t *testing.T) {
		roomID, err := conn.JoinRoom(context.Background(), "#lobby:test.local")
		if err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
		if roomID.String() != "!lobby:test.local" {
			t.Errorf("unexpected room ID: %s", roomID)
		}
	})

	t.Run("by room ID", func(t *testing.T) {
		roomID, err := conn.JoinRoom(context.Background(), "!lobby:test.local")
		if err != nil {
			t.Fatalf("JoinRoom failed: %v", err)
		}
		if roomID.String() != "!lobby:test.local" {
			t.Errorf("unexpected room ID: %s", roomID)
		}
	})

	t.Run("malformed target", func(t *testing.T) {
		if _, err := conn.JoinRoom(context.Background(), "lobby"); err == nil {
			t.Fatal("expected error for target without sigil")
		}
	})
}

func TestConnPingTimeout(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, whoamiDelay: 500 * time.Millisecond, syncBodies: []string{emptySync}}
	conn := newTestConn(t, homeserver, 50*time.Millisecond)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := conn.Ping(context.Background()); !errors.Is(err, ErrPingTimeout) {
		t.Errorf("expected ErrPingTimeout, got %v", err)
	}
}

func TestConnPing(t *testing.T) {
	homeserver := &fakeHomeserver{t: t, syncBodies: []string{emptySync}}
	conn := newTestConn(t, homeserver, 0)

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	latency, err := conn.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if latency <= 0 {
		t.Errorf("expected positive latency, got %v", latency)
	}
}
