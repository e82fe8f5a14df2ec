// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeForbidden { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes the bot branches on.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// IsMatrixError checks whether err is a *MatrixError with the given
// error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsAuthFailure reports whether err means the server rejected the
// bot's credentials (as opposed to a transient transport problem).
// The engine treats these as fatal unless configured otherwise.
func IsAuthFailure(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	if matrixErr.Code == ErrCodeForbidden || matrixErr.Code == ErrCodeUnknownToken {
		return true
	}
	return matrixErr.StatusCode == http.StatusUnauthorized || matrixErr.StatusCode == http.StatusForbidden
}

// ErrPingTimeout is returned by Conn.Ping when the round-trip does not
// complete within the deadline. The ping command surfaces it as a
// chat reply; it never propagates further.
var ErrPingTimeout = errors.New("messaging: ping timed out")

// ErrNotConnected is returned by Conn operations that require a live
// session.
var ErrNotConnected = errors.New("messaging: not connected")
