// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kucenk/termuxbot/lib/ref"
	"github.com/kucenk/termuxbot/lib/secret"
)

// maxSyncRetries is the number of consecutive /sync failures tolerated
// before the pump gives up and emits a disconnected event. Each retry
// uses a short server-side timeout so the HTTP round-trip itself
// provides backoff.
const maxSyncRetries = 5

// longPollTimeout is the server-side long-poll hold time in
// milliseconds for normal /sync calls. 30 seconds matches the Matrix
// client-server spec recommendation.
const longPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds used after a
// /sync error, short so the retry completes quickly.
const retryTimeout = 1000

// defaultPingTimeout bounds Conn.Ping when the config leaves it unset.
const defaultPingTimeout = 10 * time.Second

// ConnConfig holds configuration for creating a Conn.
type ConnConfig struct {
	// Client is the homeserver client. Required.
	Client *Client
	// UserID is the account to log in as. Required.
	UserID ref.UserID
	// Password is the account password. The Conn reads it on each
	// Connect but does not close it; the caller retains ownership.
	Password *secret.Buffer
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// PingTimeout bounds Ping round-trips. Default 10s.
	PingTimeout time.Duration
}

// Conn is the live protocol connection the bot engine drives. One
// Connect/Disconnect cycle corresponds to one authenticated session;
// the engine reconnects by calling Connect again after Disconnect.
//
// Events from every session are delivered on the single channel
// returned by Events, so the engine holds one receive loop across
// reconnects.
type Conn struct {
	client      *Client
	loginUser   ref.UserID
	password    *secret.Buffer
	logger      *slog.Logger
	pingTimeout time.Duration

	events chan Event

	mu         sync.Mutex
	session    *Session
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewConn creates a Conn. No network traffic happens until Connect.
func NewConn(config ConnConfig) (*Conn, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("messaging: Client is required")
	}
	if config.UserID.IsZero() {
		return nil, fmt.Errorf("messaging: UserID is required")
	}
	if config.Password == nil {
		return nil, fmt.Errorf("messaging: Password is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pingTimeout := config.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}

	return &Conn{
		client:      config.Client,
		loginUser:   config.UserID,
		password:    config.Password,
		logger:      logger,
		pingTimeout: pingTimeout,
		events:      make(chan Event, 16),
	}, nil
}

// UserID returns the bot's own user ID, server-confirmed when a
// session is live. The engine uses it to filter the bot's own
// presence and messages.
func (c *Conn) UserID() ref.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.UserID()
	}
	return c.loginUser
}

// Events returns the channel typed protocol events are delivered on.
// The channel is never closed; a session's end is signalled by an
// EventDisconnected value.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Connect logs in, anchors a position in the /sync stream, and starts
// the event pump. The first event delivered is EventSessionStart.
// Returns an error (for which IsAuthFailure may report true) without
// starting the pump if login or the anchor sync fails.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return fmt.Errorf("messaging: already connected")
	}

	session, err := c.client.Login(ctx, c.loginUser.String(), c.password)
	if err != nil {
		return err
	}

	// Anchor the stream position with an immediate sync so the pump
	// only sees events arriving after this moment; history is never
	// replayed as live events.
	anchor, err := session.Sync(ctx, SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     syncFilter,
	})
	if err != nil {
		session.Close()
		return fmt.Errorf("messaging: anchor sync: %w", err)
	}

	// The pump outlives the Connect call's context: it stops on
	// Disconnect, not when the caller's deadline passes.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.session = session
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})

	go c.pump(pumpCtx, session, anchor.NextBatch, c.pumpDone)
	return nil
}

// Disconnect stops the event pump and releases the session. Safe to
// call multiple times; bounded by ctx.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	cancel := c.pumpCancel
	done := c.pumpDone
	c.session = nil
	c.pumpCancel = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("pump did not stop before deadline", "error", ctx.Err())
	}
	return session.Close()
}

// JoinRoom joins a room given a room ID or alias string, resolving
// aliases first. Returns the server-confirmed room ID.
func (c *Conn) JoinRoom(ctx context.Context, target string) (ref.RoomID, error) {
	session, err := c.liveSession()
	if err != nil {
		return ref.RoomID{}, err
	}

	var roomID ref.RoomID
	if strings.HasPrefix(target, "#") {
		alias, err := ref.ParseRoomAlias(target)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("messaging: %w", err)
		}
		roomID, err = session.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, err
		}
	} else {
		roomID, err = ref.ParseRoomID(target)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("messaging: %w", err)
		}
	}

	return session.JoinRoom(ctx, roomID)
}

// RoomMembers lists the occupants the server currently considers
// joined to a room. The bot's own account is included.
func (c *Conn) RoomMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	session, err := c.liveSession()
	if err != nil {
		return nil, err
	}
	return session.GetRoomMembers(ctx, roomID)
}

// SendMessage sends a text message to a room.
func (c *Conn) SendMessage(ctx context.Context, roomID ref.RoomID, text string) error {
	session, err := c.liveSession()
	if err != nil {
		return err
	}
	_, err = session.SendMessage(ctx, roomID, NewTextMessage(text))
	return err
}

// Ping measures a round-trip to the homeserver. Matrix has no
// user-to-user ping, so the measurement is a lightweight
// authenticated API call. Returns ErrPingTimeout if the round-trip
// does not complete within the configured bound.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	session, err := c.liveSession()
	if err != nil {
		return 0, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	start := time.Now()
	if _, err := session.WhoAmI(pingCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, fmt.Errorf("%w after %v", ErrPingTimeout, c.pingTimeout)
		}
		return 0, err
	}
	return time.Since(start), nil
}

func (c *Conn) liveSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

// pump long-polls /sync and converts responses into typed events. It
// exits when ctx is cancelled (clean disconnect) or after
// maxSyncRetries consecutive failures (emitting EventDisconnected).
func (c *Conn) pump(ctx context.Context, session *Session, since string, done chan struct{}) {
	defer close(done)

	if !c.deliver(ctx, Event{Kind: EventSessionStart}) {
		return
	}

	var syncRetries int
	for {
		if ctx.Err() != nil {
			return
		}

		// On retry after an error, a short server-side timeout
		// makes the round-trip itself the backoff.
		syncTimeout := longPollTimeout
		if syncRetries > 0 {
			syncTimeout = retryTimeout
		}

		response, err := session.Sync(ctx, SyncOptions{
			Since:      since,
			SetTimeout: true,
			Timeout:    syncTimeout,
			Filter:     syncFilter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			syncRetries++
			// TCP-level errors often indicate a poisoned
			// connection in the HTTP pool; drop idle
			// connections so the next attempt opens fresh.
			session.CloseIdleConnections()
			if syncRetries > maxSyncRetries {
				c.logger.Error("sync stream failed", "attempts", syncRetries, "error", err)
				c.deliver(ctx, Event{Kind: EventDisconnected, Err: err})
				return
			}
			c.logger.Debug("sync error, retrying",
				"attempt", syncRetries,
				"max_attempts", maxSyncRetries,
				"error", err,
			)
			continue
		}
		syncRetries = 0
		since = response.NextBatch

		if !c.deliverResponse(ctx, response) {
			return
		}
	}
}

// deliverResponse converts one /sync response into events. Reports
// false when delivery was interrupted by cancellation.
func (c *Conn) deliverResponse(ctx context.Context, response *SyncResponse) bool {
	self := c.UserID()

	for roomID := range response.Rooms.Invite {
		if !c.deliver(ctx, Event{Kind: EventInvite, Room: roomID}) {
			return false
		}
	}

	for roomID, joined := range response.Rooms.Join {
		// State events precede timeline events, matching the
		// delivery order from the homeserver.
		for _, raw := range joined.State.Events {
			if !c.deliverRaw(ctx, roomID, raw, self) {
				return false
			}
		}
		for _, raw := range joined.Timeline.Events {
			if !c.deliverRaw(ctx, roomID, raw, self) {
				return false
			}
		}
	}
	return true
}

// deliverRaw converts a single Matrix event. Events about the bot
// itself (its own messages, its own membership changes) are filtered
// here so the engine never has to reason about echo.
func (c *Conn) deliverRaw(ctx context.Context, roomID ref.RoomID, raw RawEvent, self ref.UserID) bool {
	switch raw.Type {
	case "m.room.message":
		if raw.Sender.EqualFold(self) {
			return true
		}
		body, ok := raw.Content["body"].(string)
		if !ok || body == "" {
			return true
		}
		return c.deliver(ctx, Event{
			Kind:   EventMessage,
			Room:   roomID,
			Sender: raw.Sender,
			Body:   body,
		})

	case "m.room.member":
		if raw.StateKey == nil {
			return true
		}
		occupant, err := ref.ParseUserID(*raw.StateKey)
		if err != nil {
			return true
		}
		if occupant.EqualFold(self) {
			return true
		}

		var content memberContent
		if encoded, err := json.Marshal(raw.Content); err == nil {
			json.Unmarshal(encoded, &content)
		}
		switch content.Membership {
		case "join":
			return c.deliver(ctx, Event{Kind: EventRoomPresence, Room: roomID, Sender: occupant, Joined: true})
		case "leave", "ban":
			return c.deliver(ctx, Event{Kind: EventRoomPresence, Room: roomID, Sender: occupant, Joined: false})
		}
		return true

	default:
		return true
	}
}

// deliver sends one event, giving up on cancellation. Reports whether
// the event was delivered.
func (c *Conn) deliver(ctx context.Context, event Event) bool {
	select {
	case c.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// syncFilter restricts /sync to the event types the bot consumes:
// messages and membership changes. Presence and account data are
// suppressed entirely.
var syncFilter = buildSyncFilter()

func buildSyncFilter() string {
	top := map[string]any{
		"room": map[string]any{
			"timeline": map[string]any{
				"types": []string{"m.room.message", "m.room.member"},
			},
			"state": map[string]any{
				"types": []string{"m.room.member"},
			},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	encoded, _ := json.Marshal(top)
	return string(encoded)
}
