// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides channel helpers for tests that coordinate
// with the bot's goroutines: bounded receives and waits that fail the
// test instead of hanging it.
package testutil
