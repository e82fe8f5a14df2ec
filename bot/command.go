// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kucenk/termuxbot/lib/ref"
)

// CommandContext carries where a command came from. Handlers use it
// for sender-specific replies.
type CommandContext struct {
	// Room is where the command message arrived.
	Room ref.RoomID
	// Sender is the user who issued the command.
	Sender ref.UserID
	// Direct is true for direct-message rooms, where commands
	// dispatch without the configured prefix.
	Direct bool
}

// HandlerFunc executes one command. args is the whitespace-split text
// after the command name. An empty reply means no chat output.
type HandlerFunc func(ctx context.Context, args []string, from CommandContext) (string, error)

type command struct {
	name         string
	handler      HandlerFunc
	requiresArgs bool
}

// Dispatcher maps command names to handlers. Registration happens once
// at startup; dispatch runs for every inbound message and never
// propagates a handler fault to the caller.
type Dispatcher struct {
	prefix   string
	logger   *slog.Logger
	commands map[string]command
}

// NewDispatcher creates a Dispatcher with the group-chat command
// prefix.
func NewDispatcher(prefix string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		prefix:   prefix,
		logger:   logger,
		commands: make(map[string]command),
	}
}

// Register adds a command. Names are matched case-insensitively;
// registering a duplicate name overwrites the earlier handler.
func (d *Dispatcher) Register(name string, requiresArgs bool, handler HandlerFunc) {
	key := strings.ToLower(name)
	d.commands[key] = command{name: key, handler: handler, requiresArgs: requiresArgs}
}

// Names returns the registered command names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch parses a command from rawText and executes it. Reports
// false when the text is not addressed to the bot (group-chat message
// without the prefix, or blank text); the caller ignores those.
// Otherwise the returned reply is always non-empty: unknown commands
// get a help hint, missing required arguments get a usage reply, and
// handler faults (errors or panics) convert to a generic failure
// reply. Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, rawText string, from CommandContext) (string, bool) {
	text := strings.TrimSpace(rawText)

	if prefixed := strings.HasPrefix(text, d.prefix); prefixed {
		text = strings.TrimPrefix(text, d.prefix)
	} else if !from.Direct {
		// Group chat requires the prefix; everything else is
		// ordinary conversation.
		return "", false
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	cmd, ok := d.commands[name]
	if !ok {
		return fmt.Sprintf("unknown command %q, try %shelp", name, d.prefix), true
	}
	if cmd.requiresArgs && len(args) == 0 {
		return fmt.Sprintf("the %s command needs an argument, try %shelp", cmd.name, d.prefix), true
	}

	reply, err := d.invoke(ctx, cmd, args, from)
	if err != nil {
		d.logger.Error("command handler failed",
			"command", cmd.name,
			"sender", from.Sender,
			"room", from.Room,
			"error", err,
		)
		return fmt.Sprintf("the %s command failed, please try again", cmd.name), true
	}
	return reply, reply != ""
}

// invoke runs the handler with panic containment. A panicking handler
// must not take down the event-ingestion path.
func (d *Dispatcher) invoke(ctx context.Context, cmd command, args []string, from CommandContext) (reply string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("bot: command %s panicked: %v", cmd.name, recovered)
		}
	}()
	return cmd.handler(ctx, args, from)
}
