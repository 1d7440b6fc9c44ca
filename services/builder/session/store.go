// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianQMB/pkg/validation"
	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSessionNotFound is returned when no readable session exists for an
	// id, including the case where both primary and backup files are
	// corrupt. Structural corruption is recovered locally and never
	// surfaces as its own error.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidAdvance is returned when the target stage is not the
	// immediate successor of the current stage.
	ErrInvalidAdvance = errors.New("invalid stage advance")

	// ErrInvalidRevert is returned when the revert target is after the
	// current stage.
	ErrInvalidRevert = errors.New("invalid stage revert")

	// ErrUnknownStage is returned when a stage argument is not part of the
	// canonical sequence.
	ErrUnknownStage = errors.New("unknown stage")
)

// =============================================================================
// Store
// =============================================================================

const (
	sessionsDir = "sessions"
	archiveDir  = "archive"

	sessionExt = ".json"
	backupExt  = ".json.bak"
)

// Store persists build sessions as one JSON file per session under
// <root>/sessions, with a .json.bak backup holding the last successfully
// committed prior version and an archive area under <root>/archive.
//
// Persistence is read-whole-file / write-whole-file and is not atomic
// against concurrent external writers. The store itself takes no locks:
// the caller serializes mutations per session id (see package doc).
type Store struct {
	root string
	now  func() time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock injects a time source. Tests use this to pin timestamps for
// ordering and cleanup behavior.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store rooted at the given directory, creating the
// sessions and archive subdirectories if needed.
func NewStore(root string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{filepath.Join(root, sessionsDir), filepath.Join(root, archiveDir)} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.root, sessionsDir, id+sessionExt)
}

func (s *Store) backupPath(id string) string {
	return filepath.Join(s.root, sessionsDir, id+backupExt)
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.root, archiveDir, id+sessionExt)
}

// =============================================================================
// Lifecycle Operations
// =============================================================================

// CreateSession generates a fresh session at the entry stage with empty
// collections and persists it immediately.
//
// Outputs:
//
//	*BuildSession - The persisted session, CurrentStage == StageConnection.
//	error - Non-nil only on persistence failure.
func (s *Store) CreateSession(projectName, userID string) (*BuildSession, error) {
	projectName, err := validation.SanitizeProjectName(projectName)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}

	created := s.now()
	sess := &BuildSession{
		SessionID:           newSessionID(created),
		ProjectName:         projectName,
		UserID:              userID,
		CreatedAt:           timestamp(created),
		CurrentStage:        StageConnection,
		CompletedStages:     []Stage{},
		ApprovedScriptParts: map[Stage]string{},
	}
	if err := s.SaveSession(sess); err != nil {
		return nil, err
	}
	observability.Default().SessionsCreated.Inc()
	return sess, nil
}

// SaveSession commits the session to disk.
//
// Description:
//
//	If a primary file already exists, its current bytes are copied to the
//	backup file before the primary is overwritten, so the backup always
//	holds the last successfully committed prior version. UpdatedAt is
//	refreshed as part of the commit.
func (s *Store) SaveSession(sess *BuildSession) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("save session: missing session id")
	}
	sess.UpdatedAt = timestamp(s.now())

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.SessionID, err)
	}

	primary := s.sessionPath(sess.SessionID)
	if prev, readErr := os.ReadFile(primary); readErr == nil {
		if err := os.WriteFile(s.backupPath(sess.SessionID), prev, 0640); err != nil {
			return fmt.Errorf("write backup for %s: %w", sess.SessionID, err)
		}
	}

	if err := os.WriteFile(primary, data, 0640); err != nil {
		return fmt.Errorf("write session %s: %w", sess.SessionID, err)
	}
	return nil
}

// LoadSession reads a session by id.
//
// Description:
//
//	Parses the primary file first; on structural corruption it falls back
//	to the backup. When neither parses, ErrSessionNotFound is returned.
//	Corruption itself is never surfaced.
func (s *Store) LoadSession(id string) (*BuildSession, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if sess, ok := readSessionFile(s.sessionPath(id)); ok {
		return sess, nil
	}
	if sess, ok := readSessionFile(s.backupPath(id)); ok {
		return sess, nil
	}
	return nil, fmt.Errorf("load %s: %w", id, ErrSessionNotFound)
}

// readSessionFile parses one session file, rejecting structurally broken
// content (unparseable JSON, missing id, or an out-of-sequence stage).
func readSessionFile(path string) (*BuildSession, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var sess BuildSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false
	}
	if sess.SessionID == "" || !sess.CurrentStage.IsValid() {
		return nil, false
	}
	if sess.CompletedStages == nil {
		sess.CompletedStages = []Stage{}
	}
	if sess.ApprovedScriptParts == nil {
		sess.ApprovedScriptParts = map[Stage]string{}
	}
	return &sess, true
}

// DeleteSession removes the primary and backup files for a session.
//
// Outputs:
//
//	bool - True if a primary file existed. Deleting a nonexistent session
//	       is not an error.
//	error - Non-nil only on filesystem failure.
func (s *Store) DeleteSession(id string) (bool, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	existed := false
	if _, err := os.Stat(s.sessionPath(id)); err == nil {
		existed = true
		if err := os.Remove(s.sessionPath(id)); err != nil {
			return false, fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	if err := os.Remove(s.backupPath(id)); err != nil && !os.IsNotExist(err) {
		return existed, fmt.Errorf("delete backup %s: %w", id, err)
	}
	return existed, nil
}

// ArchiveSession copies the full session content to the archive area and
// removes it from the active set. A subsequent LoadSession on the id
// returns ErrSessionNotFound.
func (s *Store) ArchiveSession(id string) error {
	sess, err := s.LoadSession(id)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archived session %s: %w", id, err)
	}
	if err := os.WriteFile(s.archivePath(id), data, 0640); err != nil {
		return fmt.Errorf("write archive %s: %w", id, err)
	}

	if _, err := s.DeleteSession(id); err != nil {
		return err
	}
	observability.Default().SessionsArchived.Inc()
	return nil
}

// CleanupOldSessions deletes every active session whose UpdatedAt is older
// than maxAgeDays and returns the count deleted.
func (s *Store) CleanupOldSessions(maxAgeDays int) (int, error) {
	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	ids, err := s.activeIDs()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		sess, err := s.LoadSession(id)
		if err != nil {
			continue
		}
		if sess.UpdatedAt.Before(cutoff) {
			if _, err := s.DeleteSession(id); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	observability.Default().SessionsCleaned.Add(float64(deleted))
	return deleted, nil
}

// ListSessions returns summaries of all active sessions, newest update
// first. A non-empty userID filters to that user's sessions.
func (s *Store) ListSessions(userID string) ([]SessionSummary, error) {
	ids, err := s.activeIDs()
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := s.LoadSession(id)
		if err != nil {
			continue // unreadable entries are skipped, not fatal
		}
		if userID != "" && sess.UserID != userID {
			continue
		}
		summaries = append(summaries, sess.Summary())
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt.Time)
	})
	return summaries, nil
}

// FindRecentSession returns the most recently updated active session whose
// project name matches exactly, or ErrSessionNotFound.
func (s *Store) FindRecentSession(projectName string) (*BuildSession, error) {
	ids, err := s.activeIDs()
	if err != nil {
		return nil, err
	}

	var best *BuildSession
	for _, id := range ids {
		sess, err := s.LoadSession(id)
		if err != nil {
			continue
		}
		if sess.ProjectName != projectName {
			continue
		}
		if best == nil || sess.UpdatedAt.After(best.UpdatedAt.Time) {
			best = sess
		}
	}
	if best == nil {
		return nil, fmt.Errorf("find %q: %w", projectName, ErrSessionNotFound)
	}
	return best, nil
}

// activeIDs lists the ids of all sessions with a primary file present.
func (s *Store) activeIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != sessionExt || len(name) <= len(sessionExt) {
			continue
		}
		ids = append(ids, name[:len(name)-len(sessionExt)])
	}
	return ids, nil
}
