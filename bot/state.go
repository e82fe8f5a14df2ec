// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

// State is the connection state of the engine. Exactly one value is
// active at a time, owned by the Bot.
type State int

const (
	// StateDisconnected is the initial state before Start.
	StateDisconnected State = iota
	// StateConnecting means a transport connection is being opened.
	StateConnecting
	// StateConnected means the transport is established but the
	// server has not accepted credentials yet.
	StateConnected
	// StateAuthenticated means credentials were accepted; rooms are
	// not joined yet.
	StateAuthenticated
	// StateReady means the post-session-start hook completed: rooms
	// joined, scheduler armed. Sends require this state.
	StateReady
	// StateReconnecting means the session was lost and the engine is
	// waiting out a backoff delay before reconnecting.
	StateReconnecting
	// StateShuttingDown is terminal. Entered on an explicit stop
	// request; no further transitions occur.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// validTransitions lists the permitted state machine edges.
// StateShuttingDown is reachable from every state and handled
// separately in canTransition.
var validTransitions = map[State][]State{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateReconnecting},
	StateConnected:     {StateAuthenticated, StateReconnecting},
	StateAuthenticated: {StateReady, StateReconnecting},
	StateReady:         {StateReconnecting},
	StateReconnecting:  {StateConnecting},
	StateShuttingDown:  nil,
}

// canTransition reports whether the edge from → to is permitted.
func canTransition(from, to State) bool {
	if from == StateShuttingDown {
		return false
	}
	if to == StateShuttingDown {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
