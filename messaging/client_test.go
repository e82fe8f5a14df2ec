// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kucenk/termuxbot/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The
// buffer is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// writeJSON serializes a value as a JSON response body.
func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

// assertAuth checks the Authorization header carries the expected
// bearer token.
func assertAuth(t *testing.T, request *http.Request, token string) {
	t.Helper()
	if got := request.Header.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("unexpected Authorization header: %q", got)
	}
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:6167"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		if err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "://invalid"})
		if err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}

			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode request body: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %s", body.Type)
			}
			if body.User != "@bot:test.local" {
				t.Errorf("unexpected username: %s", body.User)
			}
			if body.Password != "hunter2" {
				t.Errorf("unexpected password: %s", body.Password)
			}

			writeJSON(writer, map[string]string{
				"user_id":      "@bot:test.local",
				"access_token": "syt_bot_token",
				"device_id":    "DEVICE1",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		session, err := client.Login(context.Background(), "@bot:test.local", testBuffer(t, "hunter2"))
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()

		if session.UserID().String() != "@bot:test.local" {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		if session.DeviceID() != "DEVICE1" {
			t.Errorf("unexpected device ID: %s", session.DeviceID())
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeForbidden,
				Message: "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		_, err = client.Login(context.Background(), "@bot:test.local", testBuffer(t, "wrong"))
		if err == nil {
			t.Fatal("expected error for invalid credentials")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN error, got: %v", err)
		}
		if !IsAuthFailure(err) {
			t.Errorf("expected IsAuthFailure to report true for: %v", err)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		client, _ := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})

		_, err := client.Login(context.Background(), "", testBuffer(t, "password"))
		if err == nil {
			t.Fatal("expected error for empty user ID")
		}

		_, err = client.Login(context.Background(), "@bot:test.local", nil)
		if err == nil {
			t.Fatal("expected error for nil password")
		}
	})
}

func TestMatrixError(t *testing.T) {
	err := &MatrixError{Code: ErrCodeUnknownToken, Message: "token expired", StatusCode: 401}

	if !IsMatrixError(err, ErrCodeUnknownToken) {
		t.Error("IsMatrixError should match the errcode")
	}
	if IsMatrixError(err, ErrCodeNotFound) {
		t.Error("IsMatrixError should not match a different errcode")
	}
	if !IsAuthFailure(err) {
		t.Error("M_UNKNOWN_TOKEN should count as an auth failure")
	}

	rateLimited := &MatrixError{Code: ErrCodeLimitExceeded, Message: "slow down", StatusCode: 429}
	if IsAuthFailure(rateLimited) {
		t.Error("rate limiting is not an auth failure")
	}
}
