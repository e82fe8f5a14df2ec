// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Termuxbot is a long-running Matrix chat bot. It keeps a persistent
// session with the homeserver, joins the configured rooms, greets new
// occupants, answers a small command set (ping, help, time, status,
// uptime), and broadcasts a time announcement at every top of hour in
// its configured timezone. Lost connections reconnect with capped
// exponential backoff.
//
// Configuration comes from a YAML file plus TERMUXBOT_* environment
// overrides; a .env file in the working directory is loaded first.
// The account password is read from password_file or the
// TERMUXBOT_PASSWORD environment variable, never from a default.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kucenk/termuxbot/bot"
	"github.com/kucenk/termuxbot/lib/config"
	"github.com/kucenk/termuxbot/lib/ref"
	"github.com/kucenk/termuxbot/lib/secret"
	"github.com/kucenk/termuxbot/lib/version"
	"github.com/kucenk/termuxbot/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "termuxbot.yaml", "path to the YAML configuration file")
	pflag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("termuxbot %s\n", version.Info())
		return nil
	}

	// A .env in the working directory feeds the TERMUXBOT_* overrides
	// applied on top of the config file. Its absence is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	userID, err := ref.ParseUserID(cfg.UserID)
	if err != nil {
		return fmt.Errorf("config: user_id: %w", err)
	}

	password, err := resolvePassword(cfg)
	if err != nil {
		return err
	}
	defer password.Close()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	conn, err := messaging.NewConn(messaging.ConnConfig{
		Client:   client,
		UserID:   userID,
		Password: password,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	engine, err := bot.New(bot.Options{
		Config:    cfg,
		Transport: conn,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(); err != nil {
		return err
	}
	logger.Info("termuxbot running",
		"version", version.Info(),
		"homeserver", cfg.Homeserver,
		"timezone", cfg.Location().String(),
	)

	select {
	case <-ctx.Done():
		logger.Info("termination signal received, shutting down")
		engine.Stop()
		select {
		case <-engine.Done():
		case <-time.After(10 * time.Second):
			logger.Warn("shutdown timed out, exiting anyway")
		}
		return nil
	case <-engine.Done():
		// The run loop exited on its own: a fatal error such as
		// rejected credentials.
		engine.Stop()
		return engine.Err()
	}
}

// resolvePassword reads the account password from the configured file
// or the environment, into locked memory.
func resolvePassword(cfg *config.Config) (*secret.Buffer, error) {
	if cfg.PasswordFile != "" {
		password, err := secret.FromFile(cfg.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		return password, nil
	}
	password, err := secret.FromEnv(config.EnvPassword)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", config.EnvPassword, err)
	}
	return password, nil
}
