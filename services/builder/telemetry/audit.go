// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// Audit types recorded for compliance-relevant events.
const (
	AuditTypeStageApproval = "stage_approval"
	AuditTypeScriptReview  = "script_review"
	AuditTypeScriptExport  = "script_export"
	AuditTypeSessionEvent  = "session_event"
)

// AuditEntry is one compliance record. Script content is never stored
// directly; ContentHash carries a SHA-256 fingerprint instead.
type AuditEntry struct {
	Timestamp   string   `json:"timestamp"`
	SessionID   string   `json:"session_id"`
	UserID      string   `json:"user_id,omitempty"`
	AuditType   string   `json:"audit_type"`
	Action      string   `json:"action"`
	ContentHash string   `json:"content_hash,omitempty"`
	ReviewScore *float64 `json:"review_score,omitempty"`
	IssuesFixed *int     `json:"issues_fixed,omitempty"`
}

// AuditTrail persists audit entries to <dir>/<session_id>.audit.json,
// one JSON array per session. Unlike the buffered operational log, every
// Record call is written through to disk before it returns.
//
// Thread Safety: AuditTrail is safe for concurrent use across sessions;
// concurrent writers for the SAME session must be serialized by the
// caller.
type AuditTrail struct {
	dir string
	now func() time.Time
}

// AuditOption customizes an AuditTrail.
type AuditOption func(*AuditTrail)

// WithAuditClock injects a time source for deterministic timestamps.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditTrail) {
		a.now = now
	}
}

// NewAuditTrail creates a trail rooted at dir, creating it if needed.
func NewAuditTrail(dir string, opts ...AuditOption) (*AuditTrail, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	a := &AuditTrail{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Record appends entry to its session's audit file synchronously. A
// missing timestamp is filled in at call time. An existing file that no
// longer parses is an error: audit records are append-only and must not
// be silently discarded by an overwrite.
func (a *AuditTrail) Record(entry AuditEntry) error {
	if entry.SessionID == "" {
		return errors.New("audit entry missing session id")
	}
	if entry.Timestamp == "" {
		entry.Timestamp = a.now().Format(timestampLayout)
	}

	path := a.auditPath(entry.SessionID)

	var entries []AuditEntry
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse existing audit file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First entry for this session.
	default:
		return fmt.Errorf("read audit file %s: %w", path, err)
	}

	entries = append(entries, entry)

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit entries: %w", err)
	}
	if err := os.WriteFile(path, out, 0640); err != nil {
		return fmt.Errorf("write audit file %s: %w", path, err)
	}

	observability.Default().AuditWrites.Inc()
	return nil
}

// Entries returns all audit records for a session, oldest first. A
// session with no audit file yields an empty slice.
func (a *AuditTrail) Entries(sessionID string) ([]AuditEntry, error) {
	data, err := os.ReadFile(a.auditPath(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	var entries []AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse audit file: %w", err)
	}
	return entries, nil
}

// auditPath is <dir>/<session_id>.audit.json.
func (a *AuditTrail) auditPath(sessionID string) string {
	return filepath.Join(a.dir, sessionID+".audit.json")
}

// HashScript returns the lowercase hex SHA-256 digest of script text.
// Audit records store this fingerprint rather than the script itself.
func HashScript(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}
