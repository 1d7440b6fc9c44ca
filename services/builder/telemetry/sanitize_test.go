// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"reflect"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"db_password", true},
		{"PASSWORD", true},
		{"api_key", true},
		{"apiKey", true},
		{"access_token", true},
		{"credentials", true},
		{"client_secret", true},
		{"monkey", true}, // contains "key"; over-redaction is acceptable
		{"host", false},
		{"project", false},
		{"username", false},
	}
	for _, tt := range tests {
		if got := isSensitiveKey(tt.key); got != tt.want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSanitizeDetailsNested(t *testing.T) {
	in := map[string]any{
		"host": "db.internal",
		"auth": map[string]any{
			"token": "tok-1",
			"user":  "alice",
		},
		"servers": []any{
			map[string]any{"secret": "s1", "port": 5432},
			"plain",
		},
		"count": 2,
	}
	want := map[string]any{
		"host": "db.internal",
		"auth": map[string]any{
			"token": RedactionMarker,
			"user":  "alice",
		},
		"servers": []any{
			map[string]any{"secret": RedactionMarker, "port": 5432},
			"plain",
		},
		"count": 2,
	}
	got := sanitizeDetails(in)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeDetails = %#v, want %#v", got, want)
	}
	// Input must not be mutated.
	if in["auth"].(map[string]any)["token"] != "tok-1" {
		t.Error("sanitizeDetails mutated its input")
	}
}

func TestSanitizeDetailsSensitiveKeyWithContainerValue(t *testing.T) {
	got := sanitizeDetails(map[string]any{
		"credentials": map[string]any{"user": "alice", "password": "x"},
	})
	if got["credentials"] != RedactionMarker {
		t.Errorf("credentials = %#v, want whole value replaced", got["credentials"])
	}
}

func TestSanitizeDetailsNil(t *testing.T) {
	if got := sanitizeDetails(nil); got != nil {
		t.Errorf("sanitizeDetails(nil) = %#v, want nil", got)
	}
}
