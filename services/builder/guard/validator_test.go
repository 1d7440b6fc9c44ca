// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"strings"
	"testing"
)

func TestValidateRequestEmptyText(t *testing.T) {
	g := New()
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		result := g.ValidateRequest(ctx, text, nil)
		if result.Allowed {
			t.Errorf("ValidateRequest(%q) allowed, want rejected", text)
		}
		if result.Reason != ReasonEmptyRequest {
			t.Errorf("reason = %q, want empty_request", result.Reason)
		}
	}
}

func TestValidateRequestBlockedPatterns(t *testing.T) {
	g := New()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
	}{
		{"email drafting", "write an email to my boss"},
		{"translation", "translate this paragraph into french"},
		{"unrelated code generation", "write a python function to scrape websites"},
		{"creative writing", "compose a poem about autumn"},
		{"casual conversation", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := g.ValidateRequest(ctx, tt.text, nil)
			if result.Allowed {
				t.Fatalf("ValidateRequest(%q) allowed, want blocked", tt.text)
			}
			if result.Reason != ReasonBlockedPattern {
				t.Errorf("reason = %q, want blocked_pattern", result.Reason)
			}
			if !strings.Contains(result.RejectionMessage, "load scripts") {
				t.Errorf("rejection message %q should restate the domain", result.RejectionMessage)
			}
		})
	}
}

func TestValidateRequestDomainExplicitBypass(t *testing.T) {
	g := New()
	ctx := context.Background()

	result := g.ValidateRequest(ctx, "tweak the incremental load in my qlik script",
		&StageContext{CurrentStage: stageConnection})
	if !result.Allowed {
		t.Fatalf("domain-explicit text rejected: %+v", result)
	}
	if result.Intent != IntentDomainExplicit {
		t.Errorf("intent = %q, want domain_explicit", result.Intent)
	}
}

func TestValidateRequestBlockedPatternBeatsDomainTerm(t *testing.T) {
	g := New()

	// Blocked-pattern screening runs before the domain-explicit bypass.
	result := g.ValidateRequest(context.Background(), "write a poem about qlik", nil)
	if result.Allowed || result.Reason != ReasonBlockedPattern {
		t.Errorf("result = %+v, want blocked_pattern rejection", result)
	}
}

func TestValidateRequestStagePolicy(t *testing.T) {
	g := New()
	ctx := context.Background()

	tests := []struct {
		name    string
		text    string
		stage   string
		allowed bool
	}{
		{"go back at entry stage", "go back", stageConnection, false},
		{"go back past entry stage", "go back", stageTables, true},
		{"approve anywhere", "approve and proceed", stageExport, true},
		{"progress anywhere", "show me the progress", stageCalendar, true},
		{"add field at fields stage", "add a field for margin", stageFields, true},
		{"add field at calendar stage", "add a field for margin", stageCalendar, false},
		{"calendar intent at calendar stage", "use a fiscal calendar", stageCalendar, true},
		{"review at review stage", "request a review and score it", stageReview, true},
		{"start build at entry stage", "start a build from scratch", stageConnection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := g.ValidateRequest(ctx, tt.text, &StageContext{CurrentStage: tt.stage})
			if result.Allowed != tt.allowed {
				t.Fatalf("ValidateRequest(%q, stage=%s) = %+v, want allowed=%v",
					tt.text, tt.stage, result, tt.allowed)
			}
			if !tt.allowed {
				if result.Reason != ReasonInvalidForStage {
					t.Errorf("reason = %q, want invalid_for_stage", result.Reason)
				}
				if !strings.Contains(result.RejectionMessage, string(IntentApproveStage)) {
					t.Errorf("message %q should enumerate valid stage actions", result.RejectionMessage)
				}
			}
		})
	}
}

func TestValidateRequestUnknownIntentNeverRejects(t *testing.T) {
	g := New()
	ctx := context.Background()

	// An unclassifiable but inoffensive request passes, with and without
	// stage context.
	for _, stageCtx := range []*StageContext{nil, {CurrentStage: stageReview}} {
		result := g.ValidateRequest(ctx, "the quick brown fox jumps over the lazy dog", stageCtx)
		if !result.Allowed {
			t.Errorf("unknown intent rejected with ctx=%+v: %+v", stageCtx, result)
		}
		if result.Intent != IntentUnknown {
			t.Errorf("intent = %q, want unknown", result.Intent)
		}
	}
}

func TestUpdateBlockedPatterns(t *testing.T) {
	g := New()
	ctx := context.Background()

	if err := g.UpdateBlockedPatterns([]string{`(?i)\bforbidden\b`}); err != nil {
		t.Fatalf("UpdateBlockedPatterns: %v", err)
	}

	if result := g.ValidateRequest(ctx, "this is forbidden text", nil); result.Allowed {
		t.Error("new pattern should reject")
	}
	// Previously blocked shapes are no longer screened.
	if result := g.ValidateRequest(ctx, "write an email to my boss", nil); !result.Allowed {
		t.Errorf("old pattern still rejecting after replacement: %+v", result)
	}

	if err := g.UpdateBlockedPatterns([]string{`([`}); err == nil {
		t.Error("invalid regex should fail to install")
	}
	// The failed update must leave the previous set active.
	if result := g.ValidateRequest(ctx, "this is forbidden text", nil); result.Allowed {
		t.Error("failed update should keep the prior pattern set")
	}
}
