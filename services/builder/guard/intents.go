// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

// =============================================================================
// Declarative Classification Tables
// =============================================================================

// Keyword pairs a matchable lower-case text fragment with a scoring weight.
type Keyword struct {
	Text   string
	Weight int
}

// IntentRule binds an intent to its keyword set. Rule order is the fixed
// tie-break priority: when two intents score equally, the earlier rule wins.
type IntentRule struct {
	Intent   Intent
	Keywords []Keyword
}

// DefaultIntentRules returns the built-in keyword table.
//
// The table is data, not code: scoring lives in ClassifyIntent and never
// changes when the table is retargeted at runtime via UpdateAllowedIntents.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		{
			Intent: IntentStartBuild,
			Keywords: []Keyword{
				{Text: "start", Weight: 1},
				{Text: "begin", Weight: 1},
				{Text: "new model", Weight: 2},
				{Text: "new app", Weight: 2},
				{Text: "build", Weight: 1},
				{Text: "from scratch", Weight: 1},
			},
		},
		{
			Intent: IntentConfigureCalendar,
			Keywords: []Keyword{
				{Text: "calendar", Weight: 2},
				{Text: "time dimension", Weight: 2},
				{Text: "fiscal", Weight: 1},
				{Text: "quarter", Weight: 1},
				{Text: "month", Weight: 1},
				{Text: "week", Weight: 1},
				{Text: "date field", Weight: 1},
			},
		},
		{
			Intent: IntentRemoveField,
			Keywords: []Keyword{
				{Text: "remove", Weight: 2},
				{Text: "delete", Weight: 2},
				{Text: "drop", Weight: 1},
				{Text: "get rid of", Weight: 1},
				{Text: "exclude", Weight: 1},
			},
		},
		{
			Intent: IntentAddField,
			Keywords: []Keyword{
				{Text: "add", Weight: 2},
				{Text: "include", Weight: 1},
				{Text: "field", Weight: 1},
				{Text: "column", Weight: 1},
				{Text: "measure", Weight: 1},
				{Text: "dimension", Weight: 1},
			},
		},
		{
			Intent: IntentFixProblem,
			Keywords: []Keyword{
				{Text: "fix", Weight: 2},
				{Text: "error", Weight: 1},
				{Text: "broken", Weight: 1},
				{Text: "wrong", Weight: 1},
				{Text: "doesn't work", Weight: 1},
				{Text: "failed", Weight: 1},
				{Text: "problem", Weight: 1},
			},
		},
		{
			Intent: IntentRequestReview,
			Keywords: []Keyword{
				{Text: "review", Weight: 2},
				{Text: "feedback", Weight: 1},
				{Text: "score", Weight: 1},
				{Text: "evaluate", Weight: 1},
				{Text: "check my", Weight: 1},
			},
		},
		{
			Intent: IntentApproveStage,
			Keywords: []Keyword{
				{Text: "approve", Weight: 2},
				{Text: "looks good", Weight: 1},
				{Text: "lgtm", Weight: 1},
				{Text: "accept", Weight: 1},
				{Text: "confirm", Weight: 1},
				{Text: "next stage", Weight: 1},
				{Text: "proceed", Weight: 1},
				{Text: "continue", Weight: 1},
			},
		},
		{
			Intent: IntentGoBack,
			Keywords: []Keyword{
				{Text: "go back", Weight: 2},
				{Text: "previous", Weight: 1},
				{Text: "back to", Weight: 1},
				{Text: "undo", Weight: 1},
				{Text: "revert", Weight: 1},
			},
		},
		{
			Intent: IntentShowProgress,
			Keywords: []Keyword{
				{Text: "progress", Weight: 2},
				{Text: "status", Weight: 1},
				{Text: "where are we", Weight: 1},
				{Text: "how far", Weight: 1},
				{Text: "overview", Weight: 1},
				{Text: "what's left", Weight: 1},
			},
		},
		{
			Intent: IntentExplainConcept,
			Keywords: []Keyword{
				{Text: "explain", Weight: 2},
				{Text: "what is", Weight: 1},
				{Text: "what does", Weight: 1},
				{Text: "how does", Weight: 1},
				{Text: "understand", Weight: 1},
				{Text: "difference between", Weight: 1},
			},
		},
	}
}

// DefaultBlockedPatterns returns regexes for clearly out-of-domain request
// shapes. Matching any of them rejects the request outright.
func DefaultBlockedPatterns() []string {
	return []string{
		// Correspondence drafting
		`(?i)\b(write|draft|compose)\b.*\b(email|e-mail|letter|memo|cover letter)\b`,
		// Translation
		`(?i)\btranslate\b.*\b(to|into|from)\b`,
		// Unrelated-language code generation
		`(?i)\b(write|generate|create)\b.*\b(python|javascript|typescript|java|c\+\+|rust|html|css)\b`,
		// Creative writing
		`(?i)\b(poem|story|song|lyrics|essay|joke|haiku)\b`,
		// Casual conversation openers
		`(?i)^\s*(hi|hello|hey|how are you|what's up|good (morning|afternoon|evening))\s*[!.?]*\s*$`,
		// General-knowledge chit-chat
		`(?i)\b(weather|recipe|movie|sports score|stock price|capital of)\b`,
	}
}

// DefaultDomainTerms returns phrases that name the builder's domain
// outright. Any of them force-allows the request as IntentDomainExplicit,
// bypassing classification.
func DefaultDomainTerms() []string {
	return []string{
		"qlik",
		"load script",
		"data model",
		"data integration",
		"qvd",
		"master calendar",
		"star schema",
		"snowflake schema",
		"incremental load",
	}
}

// =============================================================================
// Per-Stage Intent Policy
// =============================================================================

// Stage identifiers, mirroring the workflow sequence without importing the
// session store.
const (
	stageConnection = "connection"
	stageTables     = "tables"
	stageFields     = "fields"
	stageCalendar   = "calendar"
	stageReview     = "review"
	stageExport     = "export"
)

// entryStage is the first stage; IntentGoBack is invalid there.
const entryStage = stageConnection

// universalIntents are allowed at every stage.
var universalIntents = []Intent{IntentApproveStage, IntentShowProgress}

// DefaultStageIntents returns the static per-stage allow-table for
// stage-specific intents. IntentApproveStage and IntentShowProgress are
// always allowed and IntentGoBack everywhere except the entry stage; those
// rules live in the validator, not this table.
func DefaultStageIntents() map[string][]Intent {
	return map[string][]Intent{
		stageConnection: {IntentStartBuild, IntentExplainConcept, IntentFixProblem},
		stageTables:     {IntentAddField, IntentRemoveField, IntentExplainConcept, IntentFixProblem},
		stageFields:     {IntentAddField, IntentRemoveField, IntentExplainConcept, IntentFixProblem},
		stageCalendar:   {IntentConfigureCalendar, IntentExplainConcept, IntentFixProblem},
		stageReview:     {IntentRequestReview, IntentFixProblem, IntentExplainConcept},
		stageExport:     {IntentRequestReview, IntentFixProblem, IntentExplainConcept},
	}
}

// domainDescription restates what the builder is for; used in rejection
// messages.
const domainDescription = "building Qlik data-integration load scripts: " +
	"connections, tables, fields, calendars, and script review"
