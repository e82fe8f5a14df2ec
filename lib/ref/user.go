// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "strings"

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
//
// A user ID always starts with '@' and contains a ':' separating the
// localpart from the server name. In a room context the user ID is the
// occupant identifier: membership is per-room, so the same UserID may
// be an occupant of several rooms independently.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if err := validateSigil(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Returns "" for the zero value.
func (u UserID) Localpart() string {
	if u.id == "" {
		return ""
	}
	colonIndex := strings.IndexByte(u.id[1:], ':')
	return u.id[1 : 1+colonIndex]
}

// EqualFold reports whether two user IDs identify the same account
// under case normalization. Homeservers case localparts
// inconsistently across endpoints, so identity checks (in particular
// "is this presence event about the bot itself?") must not compare
// raw strings.
func (u UserID) EqualFold(other UserID) bool {
	return strings.EqualFold(u.id, other.id)
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// user ID format. An empty input produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
