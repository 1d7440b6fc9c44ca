// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the durable, stage-gated build session entity and its
// file-backed persistence.
//
// A BuildSession tracks one run of the guided model-builder workflow through
// a fixed six-stage sequence. The active stage pointer only ever advances to
// its immediate successor, while stage completion (approval) is deliberately
// not gated by the pointer so the caller can author script parts out of
// order.
//
// # Thread Safety
//
// The store performs unsynchronized read-modify-write cycles against the
// filesystem. Exactly one in-process caller must serialize mutations to a
// given session id; concurrent mutation of the same session is outside the
// design contract.
package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stages
// =============================================================================

// Stage identifies one step of the fixed build workflow.
type Stage string

const (
	// StageConnection is the entry stage: pick the data source connection.
	StageConnection Stage = "connection"

	// StageTables selects the source tables to load.
	StageTables Stage = "tables"

	// StageFields shapes fields, dimensions, and measures.
	StageFields Stage = "fields"

	// StageCalendar configures the time dimension (master calendar).
	StageCalendar Stage = "calendar"

	// StageReview submits the assembled script for external review.
	StageReview Stage = "review"

	// StageExport is the terminal stage: the approved script is exported.
	StageExport Stage = "export"
)

// stageOrder defines the canonical linear sequence. Index is the sort key
// for completed-stage sets.
var stageOrder = []Stage{
	StageConnection,
	StageTables,
	StageFields,
	StageCalendar,
	StageReview,
	StageExport,
}

// TotalStages is the number of stages in the workflow.
const TotalStages = 6

// Stages returns the canonical stage sequence, first to last.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Order returns the zero-based position of the stage in the canonical
// sequence, or -1 for an unknown stage.
func (s Stage) Order() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether the stage is part of the canonical sequence.
func (s Stage) IsValid() bool {
	return s.Order() >= 0
}

// Next returns the immediate successor stage. The second return is false
// for the terminal stage and for unknown stages.
func (s Stage) Next() (Stage, bool) {
	idx := s.Order()
	if idx < 0 || idx >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[idx+1], true
}

// sortStages orders stages by canonical position, in place.
func sortStages(stages []Stage) {
	for i := 1; i < len(stages); i++ {
		for j := i; j > 0 && stages[j].Order() < stages[j-1].Order(); j-- {
			stages[j], stages[j-1] = stages[j-1], stages[j]
		}
	}
}

// =============================================================================
// Timestamps
// =============================================================================

// timeLayout is ISO-8601 with millisecond precision, the wire format for
// all persisted session timestamps.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Time is a time.Time that marshals as ISO-8601 with millisecond precision.
type Time struct {
	time.Time
}

// timestamp wraps the given instant truncated to millisecond precision.
func timestamp(t time.Time) Time {
	return Time{t.Truncate(time.Millisecond)}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(timeLayout))
}

// UnmarshalJSON implements json.Unmarshaler. RFC 3339 inputs without a
// fractional second are accepted for forward compatibility.
func (t *Time) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
	}
	t.Time = parsed
	return nil
}

// =============================================================================
// Session Entity
// =============================================================================

// GeminiReview records the outcome of one external review pass.
//
// The review service contract is "submit text, receive a numeric score and
// an issue list"; only the score-shaped summary is retained on the session.
type GeminiReview struct {
	// Stage is the stage whose script part was reviewed.
	Stage Stage `json:"stage"`

	// Score is the 0-100 review score.
	Score float64 `json:"score"`

	// Summary is the reviewer's brief assessment.
	Summary string `json:"summary,omitempty"`

	// IssuesFound is the number of issues reported.
	IssuesFound int `json:"issues_found"`

	// Approved is true when the reviewer approved the part.
	Approved bool `json:"approved"`

	// ReviewedAt is when the review completed.
	ReviewedAt Time `json:"reviewed_at"`
}

// BuildSession is the workflow entity: one run of the guided builder.
//
// Invariants maintained by the store:
//   - SessionID is immutable after creation.
//   - CurrentStage is always a member of the canonical sequence.
//   - CompletedStages is duplicate-free and sorted by canonical stage
//     order, never by insertion order.
//   - UpdatedAt is refreshed on every persisted mutation.
type BuildSession struct {
	// SessionID is unique, format "qmb-<millis>-<8 hex>".
	SessionID string `json:"session_id"`

	// ProjectName is the caller-supplied project identifier.
	ProjectName string `json:"project_name"`

	// UserID is the caller-supplied (unauthenticated) user identifier.
	UserID string `json:"user_id,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt Time `json:"created_at"`

	// UpdatedAt is refreshed on every mutation.
	UpdatedAt Time `json:"updated_at"`

	// CurrentStage is the active stage pointer.
	CurrentStage Stage `json:"current_stage"`

	// CompletedStages is the set of approved stages, canonically sorted.
	CompletedStages []Stage `json:"completed_stages"`

	// ApprovedScriptParts maps stage id to the approved script text for
	// that stage. A later approval for the same stage overwrites.
	ApprovedScriptParts map[Stage]string `json:"approved_script_parts"`

	// PendingTables lists source tables selected but not yet scripted.
	PendingTables []string `json:"pending_tables,omitempty"`

	// ModelType is the chosen data model shape (e.g. "star", "snowflake").
	// Nil until the user picks one.
	ModelType *string `json:"model_type"`

	// GeminiReviews accumulates external review outcomes.
	GeminiReviews []GeminiReview `json:"gemini_reviews,omitempty"`
}

// IsStageCompleted reports whether the stage has been approved.
func (s *BuildSession) IsStageCompleted(stage Stage) bool {
	for _, done := range s.CompletedStages {
		if done == stage {
			return true
		}
	}
	return false
}

// ProgressPercent returns the completion percentage, rounded to the
// nearest whole number.
func (s *BuildSession) ProgressPercent() int {
	return int(math.Round(100 * float64(len(s.CompletedStages)) / float64(TotalStages)))
}

// Summary derives the read-only listing projection.
func (s *BuildSession) Summary() SessionSummary {
	return SessionSummary{
		SessionID:       s.SessionID,
		ProjectName:     s.ProjectName,
		UserID:          s.UserID,
		CurrentStage:    s.CurrentStage,
		ProgressPercent: s.ProgressPercent(),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// SessionSummary is the derived projection used for listing sessions.
type SessionSummary struct {
	SessionID       string `json:"session_id"`
	ProjectName     string `json:"project_name"`
	UserID          string `json:"user_id,omitempty"`
	CurrentStage    Stage  `json:"current_stage"`
	ProgressPercent int    `json:"progress_percent"`
	CreatedAt       Time   `json:"created_at"`
	UpdatedAt       Time   `json:"updated_at"`
}

// =============================================================================
// Session IDs
// =============================================================================

// newSessionID generates a unique session id of the form
// "qmb-<millisecond-timestamp>-<8 lowercase hex>". The hex tail comes from
// a fresh UUID so concurrent creations in the same millisecond stay unique.
func newSessionID(at time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("qmb-%d-%s", at.UnixMilli(), hex[:8])
}
