// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kucenk/termuxbot/lib/ref"
	"github.com/kucenk/termuxbot/lib/secret"
)

// Session is an authenticated Matrix session: a Client plus an access
// token. The token lives in mmap-backed memory; Close releases it.
type Session struct {
	client      *Client
	accessToken *secret.Buffer
	userID      ref.UserID
	deviceID    string

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified Matrix user ID of the account.
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device ID minted at login.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Close releases the access token memory. Idempotent.
func (s *Session) Close() error {
	if s.accessToken != nil {
		return s.accessToken.Close()
	}
	return nil
}

// CloseIdleConnections drops idle HTTP connections in the underlying
// transport's pool.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// WhoAmI validates the access token and returns the user ID.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// ResolveAlias resolves a room alias (e.g., "#lobby:example.org") to a
// room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %q failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// JoinRoom joins a room by ID. Returns the server-confirmed room ID.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// GetRoomMembers lists the users currently joined to a room, as the
// server sees them. The bot's own account is included.
func (s *Session) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/joined_members"
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: list members of %s failed: %w", roomID, err)
	}

	var response JoinedMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined members response: %w", err)
	}
	members := make([]ref.UserID, 0, len(response.Joined))
	for userID := range response.Joined {
		members = append(members, userID)
	}
	return members, nil
}

// SendMessage sends a text message to a room. Uses Matrix's idempotent
// PUT with a transaction ID. Returns the event ID.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (string, error) {
	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return "", fmt.Errorf("messaging: send message to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// Sync performs an incremental sync with the homeserver. For the
// initial sync, leave options.Since empty. For long-polling, set
// options.Timeout to the desired wait in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Unique across restarts via the timestamp component.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("termuxbot-%d-%d", time.Now().UnixMilli(), counter)
}
