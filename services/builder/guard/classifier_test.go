// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"testing"
)

func TestClassifyIntent(t *testing.T) {
	g := New()
	ctx := context.Background()

	tests := []struct {
		name   string
		text   string
		intent Intent
	}{
		{
			name:   "start a build",
			text:   "Let's start a build from scratch",
			intent: IntentStartBuild,
		},
		{
			name:   "add a field",
			text:   "Please add a field for revenue",
			intent: IntentAddField,
		},
		{
			name:   "remove a field",
			text:   "Remove the discount column, we don't need it",
			intent: IntentRemoveField,
		},
		{
			name:   "configure the calendar",
			text:   "Set up a fiscal calendar by quarter",
			intent: IntentConfigureCalendar,
		},
		{
			name:   "fix a problem",
			text:   "Fix the error in the generated script",
			intent: IntentFixProblem,
		},
		{
			name:   "request a review",
			text:   "Can I get a review and a score for this?",
			intent: IntentRequestReview,
		},
		{
			name:   "approve",
			text:   "Approve it, looks good to me",
			intent: IntentApproveStage,
		},
		{
			name:   "go back",
			text:   "Go back and undo to the previous step",
			intent: IntentGoBack,
		},
		{
			name:   "show progress",
			text:   "What's the status, how far along are we?",
			intent: IntentShowProgress,
		},
		{
			name:   "explain",
			text:   "Explain what a synthetic join is",
			intent: IntentExplainConcept,
		},
		{
			name:   "no match",
			text:   "the quick brown fox jumps over the lazy dog",
			intent: IntentUnknown,
		},
		{
			name:   "case insensitive",
			text:   "APPROVE AND PROCEED",
			intent: IntentApproveStage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ClassifyIntent(ctx, tt.text)
			if got.Intent != tt.intent {
				t.Errorf("ClassifyIntent(%q).Intent = %q, want %q (found %v)",
					tt.text, got.Intent, tt.intent, got.KeywordsFound)
			}
		})
	}
}

func TestClassifyIntentConfidenceBands(t *testing.T) {
	g := New()
	ctx := context.Background()

	// Zero matches: confidence below the actionable line, no keywords.
	none := g.ClassifyIntent(ctx, "the quick brown fox jumps over the lazy dog")
	if none.Intent != IntentUnknown {
		t.Fatalf("no-match intent = %q, want unknown", none.Intent)
	}
	if none.Confidence >= 0.3 {
		t.Errorf("no-match confidence = %.2f, want < 0.3", none.Confidence)
	}
	if len(none.KeywordsFound) != 0 {
		t.Errorf("no-match keywords = %v, want empty", none.KeywordsFound)
	}

	// Three-plus matched keywords: confident classification.
	many := g.ClassifyIntent(ctx, "go back and undo to the previous step")
	if many.Intent != IntentGoBack {
		t.Fatalf("intent = %q, want go_back", many.Intent)
	}
	if len(many.KeywordsFound) < 3 {
		t.Fatalf("keywords = %v, want at least 3 matches", many.KeywordsFound)
	}
	if many.Confidence < 0.6 {
		t.Errorf("confidence = %.2f, want >= 0.6", many.Confidence)
	}

	// Confidence grows monotonically with matched weight.
	one := g.ClassifyIntent(ctx, "include it")
	two := g.ClassifyIntent(ctx, "include the field")
	if !(one.Confidence < two.Confidence && two.Confidence < many.Confidence) {
		t.Errorf("confidence not monotonic: %.2f, %.2f, %.2f",
			one.Confidence, two.Confidence, many.Confidence)
	}
}

func TestClassifyIntentTieBreaksByTableOrder(t *testing.T) {
	g := New()

	// "drop" (remove, weight 1) ties "column" (add, weight 1); the remove
	// rule precedes the add rule, so the tie goes to remove.
	got := g.ClassifyIntent(context.Background(), "drop the column")
	if got.Intent != IntentRemoveField {
		t.Errorf("tie broke to %q, want remove_field", got.Intent)
	}
}

func TestUpdateAllowedIntentsRetargets(t *testing.T) {
	g := New()
	ctx := context.Background()

	g.UpdateAllowedIntents([]IntentRule{
		{
			Intent:   Intent("deploy"),
			Keywords: []Keyword{{Text: "deploy", Weight: 2}},
		},
	})

	if got := g.ClassifyIntent(ctx, "deploy the model"); got.Intent != Intent("deploy") {
		t.Errorf("new table intent = %q, want deploy", got.Intent)
	}

	// Text matching only the prior table now classifies as unknown.
	if got := g.ClassifyIntent(ctx, "approve and proceed"); got.Intent != IntentUnknown {
		t.Errorf("old-table text intent = %q, want unknown after retarget", got.Intent)
	}
}
