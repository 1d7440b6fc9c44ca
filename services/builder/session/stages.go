// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"fmt"

	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// =============================================================================
// Stage Progression
// =============================================================================

// AdvanceStage moves the active stage pointer to its immediate successor.
//
// Description:
//
//	Succeeds only if target is the element directly after the session's
//	current stage; any other target fails with ErrInvalidAdvance and
//	leaves the session untouched. On success the session is persisted.
//
// Example:
//
//	err := store.AdvanceStage(sess, session.StageTables)
//	// fails unless sess.CurrentStage == session.StageConnection
func (s *Store) AdvanceStage(sess *BuildSession, target Stage) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, target)
	}
	next, ok := sess.CurrentStage.Next()
	if !ok || next != target {
		return fmt.Errorf("%w: cannot advance from %s to %s",
			ErrInvalidAdvance, sess.CurrentStage, target)
	}

	sess.CurrentStage = target
	if err := s.SaveSession(sess); err != nil {
		return err
	}
	observability.Default().StageAdvances.Inc()
	return nil
}

// ApproveStage marks a stage complete and stores its approved script text.
//
// Description:
//
//	Idempotent on the completion set: the stage is added to
//	CompletedStages only if absent, and the set is re-sorted to canonical
//	stage order rather than insertion order. The script part is always
//	(over)written. Approval is deliberately not gated by CurrentStage so
//	parts can be authored out of order while the active pointer still
//	advances strictly.
func (s *Store) ApproveStage(sess *BuildSession, stage Stage, scriptText string) error {
	if !stage.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	if !sess.IsStageCompleted(stage) {
		sess.CompletedStages = append(sess.CompletedStages, stage)
		sortStages(sess.CompletedStages)
	}
	if sess.ApprovedScriptParts == nil {
		sess.ApprovedScriptParts = map[Stage]string{}
	}
	sess.ApprovedScriptParts[stage] = scriptText

	return s.SaveSession(sess)
}

// RevertToStage moves the active pointer backwards.
//
// Description:
//
//	Succeeds only if target is at or before the current stage; a forward
//	target fails with ErrInvalidRevert and leaves the session untouched.
//	On success every completed stage strictly after the target is removed
//	along with its approved script part, then the session is persisted.
func (s *Store) RevertToStage(sess *BuildSession, target Stage) error {
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, target)
	}
	if target.Order() > sess.CurrentStage.Order() {
		return fmt.Errorf("%w: cannot revert forward from %s to %s",
			ErrInvalidRevert, sess.CurrentStage, target)
	}

	sess.CurrentStage = target

	kept := sess.CompletedStages[:0]
	for _, done := range sess.CompletedStages {
		if done.Order() <= target.Order() {
			kept = append(kept, done)
			continue
		}
		delete(sess.ApprovedScriptParts, done)
	}
	sess.CompletedStages = kept

	return s.SaveSession(sess)
}
