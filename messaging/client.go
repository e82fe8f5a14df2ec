// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kucenk/termuxbot/lib/ref"
	"github.com/kucenk/termuxbot/lib/secret"
)

// maxResponseBytes caps how much of a homeserver response is read.
// Sync responses for a busy account run to a few hundred kilobytes;
// anything near this limit indicates a misbehaving server.
const maxResponseBytes = 8 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. It holds the homeserver
// URL and HTTP transport, shared by the Session created at login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// Validate the URL structure. The string form (trailing slash
	// stripped) is stored and request URLs are built by direct
	// concatenation, avoiding url.URL's re-encoding of already
	// encoded path segments.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops idle HTTP connections in the transport's
// pool. Called after a sync error so the next request opens a fresh
// TCP connection instead of reusing a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login authenticates with the user ID and password, returning an
// authenticated Session. The password buffer is read but not closed;
// the caller retains ownership.
//
// A rejected credential surfaces as a *MatrixError for which
// IsAuthFailure reports true.
func (c *Client) Login(ctx context.Context, userID string, password *secret.Buffer) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("messaging: user ID is required for login")
	}
	if password == nil {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	// Password is converted to string at the JSON serialization
	// boundary. The heap copy is short-lived.
	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     userID,
		Password:                 password.String(),
		InitialDeviceDisplayName: "termuxbot",
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	tokenBuffer, err := secret.NewFromBytes([]byte(authResponse.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}

	c.logger.Info("logged in to homeserver",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return &Session{
		client:      c,
		accessToken: tokenBuffer,
		userID:      authResponse.UserID,
		deviceID:    authResponse.DeviceID,
	}, nil
}

// SessionFromToken constructs a Session from an existing access token,
// skipping the login round-trip.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) (*Session, error) {
	tokenBuffer, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	return &Session{
		client:      c,
		accessToken: tokenBuffer,
		userID:      userID,
	}, nil
}

// doRequest performs an HTTP request to the homeserver and returns the
// response body. On 2xx, returns the body. On 4xx/5xx, returns a
// *MatrixError. accessToken may be nil for unauthenticated endpoints;
// query may be nil for endpoints without query parameters.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		request.Header.Set("Authorization", "Bearer "+accessToken.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses use the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Non-JSON error from a proxy or misconfigured server.
		// Fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}
