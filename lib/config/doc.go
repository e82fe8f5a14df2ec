// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the bot.
//
// Configuration is loaded from a single file passed via --config.
// After the file is read, TERMUXBOT_* environment variables override
// individual fields, so a deployment can keep a checked-in base file
// and inject account details through the environment (or a .env file
// loaded by the entry point).
//
// The password is never stored in the config file. It is resolved at
// startup from password_file or the TERMUXBOT_PASSWORD environment
// variable; Validate fails if neither source is configured.
package config
