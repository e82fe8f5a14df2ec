// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kucenk/termuxbot/lib/ref"
)

// EnvPassword is the environment variable consulted for the account
// password when password_file is not set.
const EnvPassword = "TERMUXBOT_PASSWORD"

// Config is the resolved bot configuration.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org").
	Homeserver string `yaml:"homeserver"`

	// UserID is the bot's fully-qualified Matrix user ID
	// (e.g., "@pybot:example.org").
	UserID string `yaml:"user_id"`

	// PasswordFile is the path of a file holding the account
	// password. When empty, the password comes from the
	// TERMUXBOT_PASSWORD environment variable.
	PasswordFile string `yaml:"password_file"`

	// Rooms lists the rooms to join at session start, by room ID
	// ("!id:server") or alias ("#name:server").
	Rooms []string `yaml:"rooms"`

	// TimezoneOffset is the fixed offset, in whole hours east of
	// UTC, used for the hourly announcement and the time command.
	TimezoneOffset int `yaml:"timezone_offset"`

	// CommandPrefix marks commands in group chat (e.g., "!ping").
	// Direct messages dispatch commands without a prefix.
	CommandPrefix string `yaml:"command_prefix"`

	Messages  MessagesConfig  `yaml:"messages"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// MessagesConfig holds the bot's message templates. Placeholders in
// braces are substituted at send time: {time}, {date}, {day} with the
// configured offset's wall clock, {occupant} and {room} in the
// per-user welcome.
type MessagesConfig struct {
	// Welcome is announced to a room right after the bot joins it.
	Welcome string `yaml:"welcome"`

	// UserWelcome greets an occupant seen in a room for the first
	// time this session.
	UserWelcome string `yaml:"user_welcome"`

	// Hourly is broadcast to all joined rooms at each top of hour.
	Hourly string `yaml:"hourly"`
}

// ReconnectConfig controls the backoff between reconnection attempts.
type ReconnectConfig struct {
	// InitialBackoff is the delay before the first reconnect
	// attempt. Doubles after each failed attempt.
	InitialBackoff Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the doubling.
	MaxBackoff Duration `yaml:"max_backoff"`

	// RetryAuth classifies authentication failures as retryable.
	// Off by default: a rejected password loops forever against the
	// server if retried blindly.
	RetryAuth bool `yaml:"retry_auth"`
}

// Duration wraps time.Duration with YAML support for "5s"-style
// strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with defaults for everything that has a
// sensible one. Account fields (homeserver, user ID, password source)
// have no defaults and must come from the file or the environment.
func Default() *Config {
	return &Config{
		TimezoneOffset: 7,
		CommandPrefix:  "!",
		Messages: MessagesConfig{
			Welcome:     "termuxbot is online. Time: {time}",
			UserWelcome: "Welcome {occupant}! Type !help for commands.",
			Hourly:      "Time update: {time} | {date} ({day})",
		},
		Reconnect: ReconnectConfig{
			InitialBackoff: Duration(5 * time.Second),
			MaxBackoff:     Duration(5 * time.Minute),
		},
	}
}

// LoadFile loads configuration from path, applies TERMUXBOT_*
// environment overrides, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies TERMUXBOT_* environment variables on top
// of the file values. The environment wins, matching the original
// deployment model where the file is checked in and credentials
// arrive through the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TERMUXBOT_HOMESERVER"); v != "" {
		c.Homeserver = v
	}
	if v := os.Getenv("TERMUXBOT_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("TERMUXBOT_PASSWORD_FILE"); v != "" {
		c.PasswordFile = v
	}
	if v := os.Getenv("TERMUXBOT_ROOMS"); v != "" {
		var rooms []string
		for _, room := range strings.Split(v, ",") {
			if room = strings.TrimSpace(room); room != "" {
				rooms = append(rooms, room)
			}
		}
		c.Rooms = rooms
	}
	if v := os.Getenv("TERMUXBOT_TIMEZONE_OFFSET"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			c.TimezoneOffset = offset
		}
	}
	if v := os.Getenv("TERMUXBOT_COMMAND_PREFIX"); v != "" {
		c.CommandPrefix = v
	}
}

// Validate checks the configuration. All problems are reported
// together. Credentials have no fallback: a missing password source
// is an error, never a default.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver == "" {
		errs = append(errs, fmt.Errorf("homeserver is required"))
	} else if parsed, err := url.Parse(c.Homeserver); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver must be an absolute URL: %q", c.Homeserver))
	}

	if c.UserID == "" {
		errs = append(errs, fmt.Errorf("user_id is required"))
	} else if _, err := ref.ParseUserID(c.UserID); err != nil {
		errs = append(errs, fmt.Errorf("user_id: %w", err))
	}

	if c.PasswordFile == "" && os.Getenv(EnvPassword) == "" {
		errs = append(errs, fmt.Errorf("no password source: set password_file or %s", EnvPassword))
	}

	for _, room := range c.Rooms {
		if _, _, err := ParseRoomTarget(room); err != nil {
			errs = append(errs, fmt.Errorf("rooms: %w", err))
		}
	}

	if c.TimezoneOffset < -12 || c.TimezoneOffset > 14 {
		errs = append(errs, fmt.Errorf("timezone_offset %d out of range [-12, 14]", c.TimezoneOffset))
	}

	if c.CommandPrefix == "" {
		errs = append(errs, fmt.Errorf("command_prefix must not be empty"))
	}

	if c.Reconnect.InitialBackoff.Std() < time.Second {
		errs = append(errs, fmt.Errorf("reconnect.initial_backoff %v is below the 1s floor", c.Reconnect.InitialBackoff.Std()))
	}
	if c.Reconnect.MaxBackoff.Std() < c.Reconnect.InitialBackoff.Std() {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %v is below initial_backoff", c.Reconnect.MaxBackoff.Std()))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the fixed timezone the bot announces in.
func (c *Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("GMT%+d", c.TimezoneOffset), c.TimezoneOffset*3600)
}

// ParseRoomTarget parses a configured room string into either a room
// ID or a room alias. Exactly one of the returned values is non-zero.
func ParseRoomTarget(raw string) (ref.RoomID, ref.RoomAlias, error) {
	if strings.HasPrefix(raw, "#") {
		alias, err := ref.ParseRoomAlias(raw)
		return ref.RoomID{}, alias, err
	}
	roomID, err := ref.ParseRoomID(raw)
	return roomID, ref.RoomAlias{}, err
}
