// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kucenk/termuxbot/lib/clock"
	"github.com/kucenk/termuxbot/lib/config"
	"github.com/kucenk/termuxbot/lib/ref"
	"github.com/kucenk/termuxbot/messaging"
)

// ErrAlreadyRunning is returned by Start when the bot is not in its
// initial disconnected state.
var ErrAlreadyRunning = errors.New("bot: already running")

// ErrNotReady is returned by operations that require a ready session.
var ErrNotReady = errors.New("bot: session not ready")

const (
	// connectTimeout bounds one connection attempt (login plus the
	// stream anchor).
	connectTimeout = 60 * time.Second
	// sendTimeout bounds one outbound message.
	sendTimeout = 15 * time.Second
	// disconnectTimeout bounds the best-effort disconnect during
	// shutdown and between reconnect attempts.
	disconnectTimeout = 5 * time.Second
	// commandTimeout bounds one command handler, network round-trips
	// included.
	commandTimeout = 30 * time.Second
)

// Transport is the live protocol connection the bot drives. Satisfied
// by *messaging.Conn.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	JoinRoom(ctx context.Context, target string) (ref.RoomID, error)
	RoomMembers(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, text string) error
	Ping(ctx context.Context) (time.Duration, error)
	Events() <-chan messaging.Event
	UserID() ref.UserID
}

// Options configures a Bot.
type Options struct {
	// Config is the resolved, validated configuration. Required.
	Config *config.Config
	// Transport is the protocol connection. Required.
	Transport Transport
	// Clock drives the scheduler and reconnect backoff. If nil, the
	// real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Bot is the session controller: it owns the connection state
// machine, routes inbound events to the Tracker and Dispatcher, fires
// the hourly announcement, and drives reconnection with capped
// exponential backoff.
type Bot struct {
	cfg       *config.Config
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger
	location  *time.Location

	dispatcher *Dispatcher
	tracker    *Tracker
	scheduler  *Scheduler

	runCtx    context.Context
	cancelRun context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once

	mu          sync.Mutex
	state       State
	joinedRooms []ref.RoomID
	configured  map[ref.RoomID]bool
	startedAt   time.Time
	sawReady    bool
	runErr      error
}

// New creates a Bot and registers the built-in commands. The
// configuration must already be validated.
func New(options Options) (*Bot, error) {
	if options.Config == nil {
		return nil, fmt.Errorf("bot: Config is required")
	}
	if options.Transport == nil {
		return nil, fmt.Errorf("bot: Transport is required")
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	b := &Bot{
		cfg:        options.Config,
		transport:  options.Transport,
		clock:      clk,
		logger:     logger,
		location:   options.Config.Location(),
		dispatcher: NewDispatcher(options.Config.CommandPrefix, logger),
		tracker:    NewTracker(),
		runCtx:     runCtx,
		cancelRun:  cancelRun,
		done:       make(chan struct{}),
		state:      StateDisconnected,
		configured: make(map[ref.RoomID]bool),
	}
	b.scheduler = NewScheduler(clk, b.location, logger)
	b.registerBuiltins()
	return b, nil
}

// Dispatcher exposes the command table for registering additional
// commands before Start.
func (b *Bot) Dispatcher() *Dispatcher {
	return b.dispatcher
}

// State returns the current connection state.
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start begins the connect/run/reconnect loop in the background.
// Returns ErrAlreadyRunning unless the bot is in its initial
// disconnected state; a stopped bot stays stopped.
func (b *Bot) Start() error {
	b.mu.Lock()
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, b.state)
	}
	b.state = StateConnecting
	b.startedAt = b.clock.Now()
	b.mu.Unlock()

	b.logger.Info("starting",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
		"rooms", len(b.cfg.Rooms),
	)
	go b.run()
	return nil
}

// Stop transitions to the terminal shutting-down state, cancels the
// scheduler and any backoff wait, and asks the transport to
// disconnect with a short bound. Safe to call multiple times.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.transition(StateShuttingDown)
		b.scheduler.Stop()
		b.cancelRun()

		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := b.transport.Disconnect(ctx); err != nil {
			b.logger.Warn("disconnect during shutdown failed", "error", err)
		}
		b.logger.Info("stopped")
	})
}

// Done is closed when the run loop exits. Check Err afterwards: a nil
// error means a clean stop, a non-nil one a fatal failure such as
// rejected credentials.
func (b *Bot) Done() <-chan struct{} {
	return b.done
}

// Err returns the fatal error that ended the run loop, if any.
func (b *Bot) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runErr
}

// Uptime returns how long the bot has been running since Start.
func (b *Bot) Uptime() time.Duration {
	b.mu.Lock()
	startedAt := b.startedAt
	b.mu.Unlock()
	if startedAt.IsZero() {
		return 0
	}
	return b.clock.Now().Sub(startedAt)
}

// run is the reconnect loop: one iteration per session attempt, with
// capped exponential backoff between failures. Exits on Stop or on a
// fatal (non-retryable) error.
func (b *Bot) run() {
	defer close(b.done)

	backoff := b.cfg.Reconnect.InitialBackoff.Std()
	for {
		sessionErr := b.runSession()

		if b.runCtx.Err() != nil || b.State() == StateShuttingDown {
			return
		}

		if sessionErr != nil && messaging.IsAuthFailure(sessionErr) && !b.cfg.Reconnect.RetryAuth {
			b.logger.Error("authentication rejected, giving up", "error", sessionErr)
			b.setRunErr(fmt.Errorf("bot: authentication rejected: %w", sessionErr))
			return
		}

		if b.consumeSawReady() {
			backoff = b.cfg.Reconnect.InitialBackoff.Std()
		}

		if !b.transition(StateReconnecting) {
			return
		}
		b.logger.Info("session lost, reconnecting",
			"backoff", backoff,
			"error", sessionErr,
		)
		select {
		case <-b.clock.After(backoff):
		case <-b.runCtx.Done():
			return
		}
		backoff = min(backoff*2, b.cfg.Reconnect.MaxBackoff.Std())

		if !b.transition(StateConnecting) {
			return
		}
	}
}

// runSession performs one connect/event-loop cycle. Returns the error
// that ended the session, or nil on a cancelled run context.
func (b *Bot) runSession() error {
	connectCtx, cancel := context.WithTimeout(b.runCtx, connectTimeout)
	err := b.transport.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}
	b.transition(StateConnected)
	b.transition(StateAuthenticated)

	defer func() {
		b.scheduler.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		b.transport.Disconnect(ctx)
	}()

	for {
		select {
		case <-b.runCtx.Done():
			return nil
		case event := <-b.transport.Events():
			if event.Kind == messaging.EventDisconnected {
				return event.Err
			}
			b.OnEvent(event)
		}
	}
}

// OnEvent routes one inbound protocol event. Never blocks: command
// and welcome handling run as independent tasks that submit their
// replies through the transport when done.
func (b *Bot) OnEvent(event messaging.Event) {
	switch event.Kind {
	case messaging.EventSessionStart:
		b.handleSessionStart()
	case messaging.EventMessage:
		go b.handleMessage(event)
	case messaging.EventRoomPresence:
		b.handlePresence(event)
	case messaging.EventInvite:
		go b.handleInvite(event)
	case messaging.EventDisconnected:
		// Consumed by the run loop; nothing to do here.
	}
}

// handleSessionStart is the post-login hook: join the configured
// rooms (resetting each room's presence picture first, then rebuilding
// it from the server's member list, since server-side membership is
// authoritative and unknown until the rejoin completes), mark ready,
// arm the scheduler, announce.
func (b *Bot) handleSessionStart() {
	joined := make([]ref.RoomID, 0, len(b.cfg.Rooms))
	configured := make(map[ref.RoomID]bool, len(b.cfg.Rooms))

	for _, target := range b.cfg.Rooms {
		ctx, cancel := context.WithTimeout(b.runCtx, sendTimeout)
		roomID, err := b.transport.JoinRoom(ctx, target)
		cancel()
		if err != nil {
			b.logger.Warn("failed to join room", "room", target, "error", err)
			continue
		}
		b.tracker.ResetRoom(roomID)
		b.seedPresence(roomID)
		joined = append(joined, roomID)
		configured[roomID] = true
		b.logger.Info("joined room", "room", roomID)
	}

	b.mu.Lock()
	b.joinedRooms = joined
	b.configured = configured
	b.sawReady = true
	b.mu.Unlock()

	// Ready precedes arming: a boundary tick that fires immediately
	// must find Broadcast willing to send.
	if !b.transition(StateReady) {
		return
	}
	b.scheduler.Start(b.announce)

	if welcome := b.cfg.Messages.Welcome; welcome != "" {
		text := renderTemplate(welcome, b.clock.Now().In(b.location), nil)
		if err := b.Broadcast(text); err != nil {
			b.logger.Warn("welcome announcement failed", "error", err)
		}
	}
}

// seedPresence primes the tracker with the room's occupants as the
// server reports them, so residents who were already in the room
// before the session started are not greeted as newcomers on their
// next membership event. A listing failure leaves the room's picture
// empty; presence events fill it in as they arrive.
func (b *Bot) seedPresence(roomID ref.RoomID) {
	ctx, cancel := context.WithTimeout(b.runCtx, sendTimeout)
	members, err := b.transport.RoomMembers(ctx, roomID)
	cancel()
	if err != nil {
		b.logger.Warn("failed to list room members", "room", roomID, "error", err)
		return
	}

	self := b.transport.UserID()
	for _, member := range members {
		if member.EqualFold(self) {
			continue
		}
		b.tracker.OnJoin(roomID, member)
	}
}

// handleMessage dispatches a chat message as a command and replies in
// the room it came from.
func (b *Bot) handleMessage(event messaging.Event) {
	ctx, cancel := context.WithTimeout(b.runCtx, commandTimeout)
	defer cancel()

	from := CommandContext{
		Room:   event.Room,
		Sender: event.Sender,
		Direct: !b.isConfiguredRoom(event.Room),
	}
	reply, handled := b.dispatcher.Dispatch(ctx, event.Body, from)
	if !handled {
		return
	}

	if err := b.transport.SendMessage(ctx, event.Room, reply); err != nil {
		b.logger.Warn("failed to send command reply",
			"room", event.Room,
			"sender", event.Sender,
			"error", err,
		)
	}
}

// handlePresence updates the tracker and welcomes first-time
// occupants. The tracker update is serialized with event ingestion;
// the welcome send runs as its own task.
func (b *Bot) handlePresence(event messaging.Event) {
	if !event.Joined {
		b.tracker.OnLeave(event.Room, event.Sender)
		return
	}

	isNew := b.tracker.OnJoin(event.Room, event.Sender)
	if !isNew || b.State() != StateReady {
		return
	}

	template := b.cfg.Messages.UserWelcome
	if template == "" {
		return
	}
	go b.sendUserWelcome(event.Room, event.Sender, template)
}

func (b *Bot) sendUserWelcome(room ref.RoomID, occupant ref.UserID, template string) {
	text := renderTemplate(template, b.clock.Now().In(b.location), map[string]string{
		"occupant": occupant.Localpart(),
		"room":     room.String(),
	})

	ctx, cancel := context.WithTimeout(b.runCtx, sendTimeout)
	defer cancel()
	if err := b.transport.SendMessage(ctx, room, text); err != nil {
		b.logger.Warn("failed to send user welcome",
			"room", room,
			"occupant", occupant,
			"error", err,
		)
	}
}

// handleInvite accepts a room invite so direct-message commands work.
// Invited rooms are not broadcast targets; only configured rooms are.
func (b *Bot) handleInvite(event messaging.Event) {
	ctx, cancel := context.WithTimeout(b.runCtx, sendTimeout)
	defer cancel()

	if _, err := b.transport.JoinRoom(ctx, event.Room.String()); err != nil {
		b.logger.Warn("failed to accept invite", "room", event.Room, "error", err)
		return
	}
	b.logger.Info("accepted invite", "room", event.Room)
}

// announce is the scheduler callback: render the hourly template and
// broadcast it.
func (b *Bot) announce(now time.Time) {
	template := b.cfg.Messages.Hourly
	if template == "" {
		return
	}
	text := renderTemplate(template, now.In(b.location), nil)
	if err := b.Broadcast(text); err != nil {
		b.logger.Warn("hourly announcement failed", "error", err)
		return
	}
	b.logger.Info("hourly announcement sent", "at", now.In(b.location))
}

// Broadcast sends text to every joined room. Requires the ready
// state. Per-room failures are logged, not fatal: the operation
// succeeds if at least one room accepted the message. Zero joined
// rooms is a no-op, not an error.
func (b *Bot) Broadcast(text string) error {
	b.mu.Lock()
	state := b.state
	rooms := make([]ref.RoomID, len(b.joinedRooms))
	copy(rooms, b.joinedRooms)
	b.mu.Unlock()

	if state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotReady, state)
	}
	if len(rooms) == 0 {
		return nil
	}

	var errs []error
	sent := 0
	for _, room := range rooms {
		ctx, cancel := context.WithTimeout(b.runCtx, sendTimeout)
		err := b.transport.SendMessage(ctx, room, text)
		cancel()
		if err != nil {
			b.logger.Warn("broadcast to room failed", "room", room, "error", err)
			errs = append(errs, fmt.Errorf("room %s: %w", room, err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("bot: broadcast reached no rooms: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bot) isConfiguredRoom(room ref.RoomID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured[room]
}

// transition moves the state machine along a permitted edge. Reports
// false (and leaves the state unchanged) for an impermissible move,
// which happens when a shutdown races the run loop.
func (b *Bot) transition(to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == to {
		return true
	}
	if !canTransition(b.state, to) {
		return false
	}
	b.logger.Debug("state transition", "from", b.state, "to", to)
	b.state = to
	return true
}

func (b *Bot) setRunErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runErr = err
}

// consumeSawReady reports whether the last session reached ready, and
// clears the flag. A session that got that far resets the backoff.
func (b *Bot) consumeSawReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	saw := b.sawReady
	b.sawReady = false
	return saw
}

// registerBuiltins installs the standard command set.
func (b *Bot) registerBuiltins() {
	b.dispatcher.Register("ping", false, b.commandPing)
	b.dispatcher.Register("help", false, b.commandHelp)
	b.dispatcher.Register("time", false, b.commandTime)
	b.dispatcher.Register("status", false, b.commandStatus)
	b.dispatcher.Register("uptime", false, b.commandUptime)
}

func (b *Bot) commandPing(ctx context.Context, _ []string, _ CommandContext) (string, error) {
	latency, err := b.transport.Ping(ctx)
	if err != nil {
		if errors.Is(err, messaging.ErrPingTimeout) {
			return "ping timed out", nil
		}
		return "", err
	}
	return fmt.Sprintf("pong (%dms)", latency.Milliseconds()), nil
}

func (b *Bot) commandHelp(_ context.Context, _ []string, _ CommandContext) (string, error) {
	return "available commands: " + strings.Join(b.dispatcher.Names(), ", "), nil
}

func (b *Bot) commandTime(_ context.Context, _ []string, _ CommandContext) (string, error) {
	now := b.clock.Now().In(b.location)
	return fmt.Sprintf("it is %s on %s", now.Format("15:04:05 MST"), now.Format("Monday, 02 Jan 2006")), nil
}

func (b *Bot) commandStatus(_ context.Context, _ []string, _ CommandContext) (string, error) {
	b.mu.Lock()
	state := b.state
	roomCount := len(b.joinedRooms)
	b.mu.Unlock()

	return fmt.Sprintf("%s on %s as %s | %d rooms | timezone GMT%+d | up %s",
		state,
		b.cfg.Homeserver,
		b.transport.UserID(),
		roomCount,
		b.cfg.TimezoneOffset,
		formatUptime(b.Uptime()),
	), nil
}

func (b *Bot) commandUptime(_ context.Context, _ []string, _ CommandContext) (string, error) {
	return "up " + formatUptime(b.Uptime()), nil
}

func formatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
