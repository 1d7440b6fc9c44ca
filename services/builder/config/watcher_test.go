// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianQMB/pkg/logging"
	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
)

const watchPoll = 50 * time.Millisecond

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(watchPoll)
	}
	return cond()
}

func TestWatcherAppliesBlockedPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qmb.yaml")
	if err := os.WriteFile(path, []byte("data_dir: /srv/qmb\n"), 0640); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	g := guard.New()
	w, err := NewWatcher(path, g, logging.New(logging.Config{Quiet: true}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// Allowed before the reload introduces the extra pattern.
	result := g.ValidateRequest(context.Background(), "please give me crypto advice for my load script", nil)
	if !result.Allowed {
		t.Fatalf("request rejected before reload: %+v", result)
	}

	updated := `
data_dir: /srv/qmb
guard:
  max_requests: 5
  window_minutes: 60
  failure_threshold: 3
  block_minutes: 10
  extra_blocked_patterns:
    - "(?i)crypto advice"
`
	if err := os.WriteFile(path, []byte(updated), 0640); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	applied := waitFor(t, 3*time.Second, func() bool {
		r := g.ValidateRequest(context.Background(), "please give me crypto advice for my load script", nil)
		return !r.Allowed
	})
	if !applied {
		t.Fatal("reloaded blocked pattern never applied")
	}
}

func TestWatcherKeepsPolicyOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qmb.yaml")
	good := `
data_dir: /srv/qmb
guard:
  max_requests: 5
  window_minutes: 60
  failure_threshold: 3
  block_minutes: 10
  extra_blocked_patterns:
    - "(?i)crypto advice"
`
	if err := os.WriteFile(path, []byte(good), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}

	g := guard.New()
	w, err := NewWatcher(path, g, logging.New(logging.Config{Quiet: true}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// Apply the good config first.
	if err := os.WriteFile(path, []byte(good), 0640); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	applied := waitFor(t, 3*time.Second, func() bool {
		r := g.ValidateRequest(context.Background(), "crypto advice please", nil)
		return !r.Allowed
	})
	if !applied {
		t.Fatal("initial policy never applied")
	}

	// A broken rewrite must leave the running policy in place.
	if err := os.WriteFile(path, []byte("guard:\n  max_requests: 0\n"), 0640); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	r := g.ValidateRequest(context.Background(), "crypto advice please", nil)
	if r.Allowed {
		t.Error("policy lost after failed reload")
	}
}
