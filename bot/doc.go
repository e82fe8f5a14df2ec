// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot implements the session lifecycle and event-dispatch
// engine: the connection state machine, per-room presence tracking,
// the chat command dispatcher, and the drift-resistant hourly
// announcement scheduler.
//
// The Bot drives a Transport (the live protocol connection) through
// connect, ready, and reconnect cycles. Inbound events route by kind:
// presence changes feed the Tracker, messages feed the Dispatcher,
// and connection loss feeds the reconnect loop. Command handling is
// asynchronous with respect to event ingestion, so a slow handler
// never stalls the stream.
package bot
