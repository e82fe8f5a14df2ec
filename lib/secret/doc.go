// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the bot's credential material (the account
// password and the access token minted at login) in memory that is
// locked against swapping and excluded from core dumps.
//
// Buffer allocates outside the Go heap via mmap(MAP_ANONYMOUS), pins
// the pages with mlock, and marks them MADV_DONTDUMP. The garbage
// collector never sees the region, so it cannot copy or relocate the
// secret. Close zeroes, unlocks, and unmaps.
package secret
