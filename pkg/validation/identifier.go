// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// Session ids and project names flow into file names under the data
// directory. Using these validators prevents path traversal and keeps
// user-provided identifiers out of shell-hostile territory.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionIDPattern matches builder session ids:
// "qmb-" + millisecond timestamp + "-" + 8 lowercase hex characters.
var sessionIDPattern = regexp.MustCompile(`^qmb-\d+-[0-9a-f]{8}$`)

// projectNamePattern allows letters, digits, spaces, underscores,
// hyphens, and dots. Max length: 64 characters.
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]{0,63}$`)

// userIDPattern allows letters, digits, underscores, hyphens, dots,
// and @ for email-style ids. Max length: 64 characters.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.@\-]{0,63}$`)

// ValidateSessionID validates a session id before it is used as a
// file name.
//
// Valid ids look like "qmb-1718200000123-a1b2c3d4". Anything else,
// including ids containing path separators, is rejected.
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return nil, fmt.Errorf("invalid session id: %w", err)
//	}
//	// Safe to join into a file path
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id format: %q", id)
	}
	return nil
}

// ValidateProjectName validates a user-supplied project name.
//
// Returns an error if the name is empty, longer than 64 characters,
// or contains characters outside letters, digits, spaces, and _.- .
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if !projectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid project name: %q (1-64 chars, letters, digits, spaces, _.- only)", name)
	}
	return nil
}

// ValidateUserID validates a user id. An empty id is allowed; sessions
// without an owner are anonymous.
func ValidateUserID(id string) error {
	if id == "" {
		return nil
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user id: %q (1-64 chars, letters, digits, _.@- only)", id)
	}
	return nil
}

// SanitizeProjectName normalizes and validates a project name.
// Returns the trimmed name if valid, or an error if invalid.
func SanitizeProjectName(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if err := ValidateProjectName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
