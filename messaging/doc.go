// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the bot's protocol layer: a Matrix
// client-server API client plus the event stream the bot engine
// consumes.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport. [Client.Login] authenticates with m.login.password
// and returns a [Session], which wraps the client with an access token
// for authenticated calls: room join, alias resolution, message send,
// member listing, and incremental /sync with long-polling.
//
// [Conn] is the connection the bot engine drives. Connect logs in,
// anchors a position in the /sync stream, and starts a pump goroutine
// that long-polls /sync and converts responses into typed [Event]
// values (session start, message, room presence, invite,
// disconnected) on the channel returned by Events. The pump retries
// transient sync errors with a short server-side timeout so the HTTP
// round-trip itself provides backoff; after several consecutive
// failures it emits a disconnected event and exits, leaving
// reconnection policy to the engine.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, ...) and HTTP status.
// Request URLs are built by string concatenation rather than url.URL
// to avoid double-encoding of path segments.
//
// Secrets (the account password and the access token) live in
// mmap-backed buffers and are converted to strings only at the JSON
// and header serialization boundaries.
package messaging
