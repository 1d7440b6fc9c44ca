// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard decides whether an inbound free-text instruction is
// in-domain, appropriate for the current workflow stage, and within the
// caller's quota.
//
// The guard is stateless over text: classification and validation are pure
// functions of the input plus a swappable declarative keyword table. Quota
// state is per user, in memory, and process-lifetime only -- it is lost on
// restart by design.
//
// The guard never imports the session store; workflow context arrives as
// plain stage identifiers.
package guard

import "time"

// =============================================================================
// Intents
// =============================================================================

// Intent is a recognized instruction category.
type Intent string

const (
	// IntentStartBuild starts a new guided build.
	IntentStartBuild Intent = "start_build"

	// IntentAddField adds a table, field, dimension, or measure.
	IntentAddField Intent = "add_field"

	// IntentRemoveField removes a table, field, dimension, or measure.
	IntentRemoveField Intent = "remove_field"

	// IntentExplainConcept asks for an explanation of a modeling concept.
	IntentExplainConcept Intent = "explain_concept"

	// IntentFixProblem reports a problem with the generated script.
	IntentFixProblem Intent = "fix_problem"

	// IntentRequestReview asks for an external review of the script.
	IntentRequestReview Intent = "request_review"

	// IntentApproveStage approves the active stage's output.
	IntentApproveStage Intent = "approve_stage"

	// IntentGoBack returns to an earlier stage.
	IntentGoBack Intent = "go_back"

	// IntentShowProgress asks for workflow status.
	IntentShowProgress Intent = "show_progress"

	// IntentConfigureCalendar configures the time dimension.
	IntentConfigureCalendar Intent = "configure_calendar"

	// IntentDomainExplicit marks text that names the builder's domain
	// outright, bypassing keyword classification.
	IntentDomainExplicit Intent = "domain_explicit"

	// IntentUnknown is returned when no keyword set matches.
	IntentUnknown Intent = "unknown"
)

// Classification is the result of keyword-based intent scoring.
type Classification struct {
	// Intent is the winning category, or IntentUnknown.
	Intent Intent `json:"intent"`

	// Confidence grows monotonically with matched keyword weight:
	// below 0.3 with zero matches, at or above 0.6 from three unit
	// matches.
	Confidence float64 `json:"confidence"`

	// KeywordsFound lists the matched keywords of the winning intent.
	KeywordsFound []string `json:"keywords_found"`
}

// =============================================================================
// Validation
// =============================================================================

// RejectionReason identifies why a request was disallowed.
type RejectionReason string

const (
	// ReasonEmptyRequest rejects empty or whitespace-only text.
	ReasonEmptyRequest RejectionReason = "empty_request"

	// ReasonBlockedPattern rejects text matching a configured
	// out-of-domain request shape.
	ReasonBlockedPattern RejectionReason = "blocked_pattern"

	// ReasonInvalidForStage rejects an intent the current stage does not
	// allow.
	ReasonInvalidForStage RejectionReason = "invalid_for_stage"
)

// StageContext carries optional workflow context into validation.
type StageContext struct {
	// CurrentStage is the active stage identifier. Empty skips the
	// per-stage intent check.
	CurrentStage string
}

// ValidationResult is the structured decision for one instruction.
//
// Rejections are decisions, not errors: Allowed is false, Reason names the
// rejection class, and RejectionMessage is caller-presentable text.
type ValidationResult struct {
	// Allowed is true when the instruction may be dispatched.
	Allowed bool `json:"allowed"`

	// Intent is the classified intent (set whenever classification ran).
	Intent Intent `json:"intent,omitempty"`

	// Reason is set only when Allowed is false.
	Reason RejectionReason `json:"reason,omitempty"`

	// RejectionMessage restates the domain or enumerates valid stage
	// actions. Empty when allowed.
	RejectionMessage string `json:"rejection_message,omitempty"`
}

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimitResult reports a user's quota standing.
type RateLimitResult struct {
	// Allowed is false once the window quota is spent or an active
	// failure block exists.
	Allowed bool `json:"allowed"`

	// RequestsRemaining is the unspent quota in the current window.
	RequestsRemaining int `json:"requests_remaining"`

	// ResetAt is when the current window rolls over.
	ResetAt time.Time `json:"reset_at"`

	// BlockedUntil is set only while a failure-streak block is active.
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Limits configures quota enforcement.
//
// Window length and block duration are deliberately configurable; only the
// capacity of 10 and the failure threshold of 3 are fixed contract values,
// kept here as defaults.
type Limits struct {
	// Capacity is the number of requests allowed per window.
	Capacity int

	// Window is the quota window length.
	Window time.Duration

	// FailureThreshold is the consecutive-failure count that triggers a
	// block.
	FailureThreshold int

	// BlockDuration is how long a failure-streak block lasts.
	BlockDuration time.Duration
}

// DefaultLimits returns the standard quota configuration: 10 requests per
// hour, a block of 10 minutes after 3 consecutive failures.
func DefaultLimits() Limits {
	return Limits{
		Capacity:         10,
		Window:           time.Hour,
		FailureThreshold: 3,
		BlockDuration:    10 * time.Minute,
	}
}
