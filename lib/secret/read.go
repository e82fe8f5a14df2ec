// Copyright 2026 The Termuxbot Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// FromEnv reads a secret from an environment variable into a protected
// buffer. The variable itself cannot be scrubbed (the process
// environment is immutable from Go), but the buffer copy is the one
// the rest of the code holds. Returns an error if the variable is
// unset or empty after trimming.
func FromEnv(name string) (*Buffer, error) {
	value := os.Getenv(name)
	trimmed := bytes.TrimSpace([]byte(value))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: environment variable %s is not set", name)
	}
	return NewFromBytes(trimmed)
}

// FromFile reads a secret from a file path into a protected buffer.
// Leading and trailing whitespace is trimmed (password files commonly
// end with a newline). Returns an error if the file is empty after
// trimming.
func FromFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: reading %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret: %s is empty", path)
	}

	// NewFromBytes zeroes trimmed; scrub the untrimmed remainder too.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
