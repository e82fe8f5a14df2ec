// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
//
// Room IDs are server-assigned opaque identifiers. They always start
// with '!' and contain a ':' separating the opaque local part from the
// server name. The bot never constructs room IDs itself; they come
// from the homeserver via alias resolution, join responses, or /sync,
// and are parsed into this type at the boundary.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if err := validateSigil(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler. Room IDs appear as
// map keys in /sync responses, which requires text marshaling support.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// room ID format. An empty input produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoomAlias is a validated Matrix room alias (e.g., "#lobby:example.org").
// Configuration files list rooms by alias or by ID; aliases are
// resolved to room IDs at connect time.
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias string.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if err := validateSigil(raw, '#', "room alias"); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

// String returns the full alias string.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value.
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// validateSigil checks the "<sigil>local:server" shape shared by room
// IDs, room aliases, and user IDs.
func validateSigil(raw string, sigil byte, kind string) error {
	if raw == "" {
		return fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return fmt.Errorf("%s must start with %q: %q", kind, string(sigil), raw)
	}
	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colonIndex == 0 {
		return fmt.Errorf("%s has empty local part: %q", kind, raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return fmt.Errorf("%s has empty server name: %q", kind, raw)
	}
	return nil
}
