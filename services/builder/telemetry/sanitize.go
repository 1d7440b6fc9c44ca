// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import "strings"

// RedactionMarker replaces values whose keys look sensitive.
const RedactionMarker = "[REDACTED]"

// sensitiveKeyParts flag a detail key for redaction when the key contains
// any of them, case-insensitively.
var sensitiveKeyParts = []string{
	"key",
	"password",
	"token",
	"credential",
	"secret",
}

// isSensitiveKey reports whether key matches a sensitive substring.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// sanitizeDetails returns a redacted copy of details. Sensitive keys map
// to RedactionMarker regardless of their value's type; nested maps and
// slices are walked recursively. The input map is never modified.
func sanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for key, value := range details {
		if isSensitiveKey(key) {
			out[key] = RedactionMarker
			continue
		}
		out[key] = sanitizeValue(value)
	}
	return out
}

// sanitizeValue recurses into container values; scalars pass through.
func sanitizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return sanitizeDetails(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return value
	}
}
