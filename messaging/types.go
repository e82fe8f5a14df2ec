// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/kucenk/termuxbot/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// SendEventResponse is returned by SendMessage.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// JoinedMembersResponse is returned by GetRoomMembers. Map keys
// decode through ref.UserID's TextUnmarshaler for validation at the
// boundary.
type JoinedMembersResponse struct {
	Joined map[ref.UserID]MemberProfile `json:"joined"`
}

// MemberProfile is the profile attached to a joined room member.
type MemberProfile struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// RawEvent is a Matrix event as delivered by /sync.
type RawEvent struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// SyncOptions controls the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from the previous sync; empty for initial
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // send the timeout parameter (distinguishes "not set" from "0")
	Filter     string // inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership
// state. Map keys decode through ref.RoomID's TextUnmarshaler for
// validation at the boundary.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom contains sync data for a room the bot is in.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the bot was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []RawEvent `json:"events"`
	PrevBatch string     `json:"prev_batch"`
	Limited   bool       `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []RawEvent `json:"events"`
}

// memberContent is the content of an m.room.member state event.
type memberContent struct {
	Membership string `json:"membership"`
}

// EventKind discriminates the typed events a Conn delivers.
type EventKind int

const (
	// EventSessionStart signals that login and the initial sync
	// completed. Delivered exactly once per successful Connect,
	// before any other event.
	EventSessionStart EventKind = iota

	// EventMessage is an m.room.message in a joined room.
	EventMessage

	// EventRoomPresence is an occupant joining or leaving a room.
	EventRoomPresence

	// EventInvite is an invitation for the bot to join a room.
	EventInvite

	// EventDisconnected signals that the sync stream failed beyond
	// the retry budget. The pump exits after delivering it; the
	// engine decides whether and when to reconnect.
	EventDisconnected
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventSessionStart:
		return "session_start"
	case EventMessage:
		return "message"
	case EventRoomPresence:
		return "room_presence"
	case EventInvite:
		return "invite"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a typed protocol event delivered on Conn.Events.
type Event struct {
	Kind EventKind

	// Room is set for message, presence, and invite events.
	Room ref.RoomID

	// Sender is the message sender or the occupant whose presence
	// changed.
	Sender ref.UserID

	// Body is the message text. Message events only.
	Body string

	// Joined distinguishes a join (true) from a leave (false).
	// Presence events only.
	Joined bool

	// Err is the terminal sync error. Disconnected events only.
	Err error
}
