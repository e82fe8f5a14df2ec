// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated identifier types for the Matrix
// entities the bot works with: room IDs, room aliases, and user IDs.
//
// Raw strings from configuration files and server responses are parsed
// into these types at the boundary, so the rest of the code never
// handles an unvalidated identifier. All types are immutable value
// types; the zero value is not valid and IsZero reports it.
//
// User identity comparison is case-normalized via [UserID.EqualFold].
// The bot uses it to filter its own presence out of room membership
// events regardless of how the homeserver cases the ID.
package ref
