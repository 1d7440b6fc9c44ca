// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// confidenceBase and confidencePerWeight tune keyword scoring: zero matches
// score 0.20 (below the 0.3 actionable line) and three unit-weight matches
// score 0.65 (above the 0.6 confident line). confidenceCap keeps heavy
// matches from reporting certainty.
const (
	confidenceBase      = 0.20
	confidencePerWeight = 0.15
	confidenceCap       = 0.95
)

// Guard is one process's scope guard instance.
//
// The classification tables are swappable at runtime (UpdateAllowedIntents,
// UpdateBlockedPatterns); per-user quota state lives in the embedded rate
// limiter. The orchestrator owns the instance's lifetime -- there is no
// package-level singleton.
//
// Thread Safety: Guard is safe for concurrent use.
type Guard struct {
	mu           sync.RWMutex
	rules        []IntentRule
	blocked      []*regexp.Regexp
	domainTerms  []string
	stageIntents map[string][]Intent

	limiter *RateLimiter
}

// Option customizes a Guard.
type Option func(*Guard)

// WithLimits overrides the default quota configuration.
func WithLimits(limits Limits) Option {
	return func(g *Guard) {
		g.limiter.limits = limits
	}
}

// WithGuardClock injects a time source for the rate limiter. Tests use
// this to step through windows and block expiry deterministically.
func WithGuardClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.limiter.now = now
	}
}

// New creates a Guard with the built-in tables and default limits.
func New(opts ...Option) *Guard {
	g := &Guard{
		rules:        DefaultIntentRules(),
		domainTerms:  DefaultDomainTerms(),
		stageIntents: DefaultStageIntents(),
		limiter:      NewRateLimiter(DefaultLimits()),
	}
	for _, pattern := range DefaultBlockedPatterns() {
		g.blocked = append(g.blocked, regexp.MustCompile(pattern))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// Classification
// =============================================================================

// ClassifyIntent scores lower-cased text against the keyword table.
//
// Description:
//
//	Each intent's score is the summed weight of its keywords found in the
//	text. The highest score wins; ties go to the earlier table entry.
//	With no match anywhere the intent is IntentUnknown and the confidence
//	stays below the actionable line.
//
// Example:
//
//	c := g.ClassifyIntent(ctx, "please add a field for revenue")
//	// c.Intent == IntentAddField, c.KeywordsFound == ["add", "field"]
//
// Thread Safety: This method is safe for concurrent use.
func (g *Guard) ClassifyIntent(ctx context.Context, text string) Classification {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := otel.Tracer("guard").Start(ctx, "guard.Guard.ClassifyIntent",
		trace.WithAttributes(attribute.Int("text_length", len(text))),
	)
	defer span.End()

	lower := strings.ToLower(text)

	g.mu.RLock()
	rules := g.rules
	g.mu.RUnlock()

	best := Classification{Intent: IntentUnknown, Confidence: confidenceBase}
	bestWeight := 0

	for _, rule := range rules {
		weight := 0
		var found []string
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw.Text) {
				weight += kw.Weight
				found = append(found, kw.Text)
			}
		}
		// Strictly greater: earlier rules hold ties by fixed priority.
		if weight > bestWeight {
			bestWeight = weight
			best = Classification{
				Intent:        rule.Intent,
				Confidence:    confidence(weight),
				KeywordsFound: found,
			}
		}
	}

	span.SetAttributes(
		attribute.String("intent", string(best.Intent)),
		attribute.Float64("confidence", best.Confidence),
		attribute.Int("matched_weight", bestWeight),
	)
	return best
}

// confidence maps matched keyword weight to a score in (0, confidenceCap].
func confidence(weight int) float64 {
	return math.Min(confidenceCap, confidenceBase+confidencePerWeight*float64(weight))
}

// =============================================================================
// Validation
// =============================================================================

// ValidateRequest runs the short-circuit decision pipeline for one
// instruction.
//
// Description:
//
//	Order is fixed: empty text, then blocked patterns, then the
//	domain-explicit bypass, then classification plus the per-stage intent
//	check when stage context is supplied. An unknown intent alone never
//	disallows; only an explicit block or a stage mismatch does.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	text - The inbound instruction.
//	stageCtx - Optional workflow context; nil skips the stage check.
//
// Thread Safety: This method is safe for concurrent use.
func (g *Guard) ValidateRequest(ctx context.Context, text string, stageCtx *StageContext) ValidationResult {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := otel.Tracer("guard").Start(ctx, "guard.Guard.ValidateRequest",
		trace.WithAttributes(attribute.Int("text_length", len(text))),
	)
	defer span.End()

	result := g.validate(ctx, text, stageCtx)

	outcome := "allowed"
	if !result.Allowed {
		outcome = "rejected"
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.String("intent", string(result.Intent)),
		attribute.String("reason", string(result.Reason)),
	)
	observability.Default().GuardDecisions.WithLabelValues(outcome, string(result.Reason)).Inc()
	return result
}

func (g *Guard) validate(ctx context.Context, text string, stageCtx *StageContext) ValidationResult {
	if strings.TrimSpace(text) == "" {
		return ValidationResult{
			Allowed:          false,
			Reason:           ReasonEmptyRequest,
			RejectionMessage: "The request is empty. Tell me what to do next with your load script.",
		}
	}

	g.mu.RLock()
	blocked := g.blocked
	domainTerms := g.domainTerms
	stageIntents := g.stageIntents
	g.mu.RUnlock()

	for _, pattern := range blocked {
		if pattern.MatchString(text) {
			return ValidationResult{
				Allowed: false,
				Reason:  ReasonBlockedPattern,
				RejectionMessage: fmt.Sprintf(
					"That request is outside this assistant's scope. I can only help with %s.",
					domainDescription),
			}
		}
	}

	lower := strings.ToLower(text)
	for _, term := range domainTerms {
		if strings.Contains(lower, term) {
			return ValidationResult{Allowed: true, Intent: IntentDomainExplicit}
		}
	}

	classification := g.ClassifyIntent(ctx, text)

	if stageCtx != nil && stageCtx.CurrentStage != "" && classification.Intent != IntentUnknown {
		if !intentAllowedAtStage(classification.Intent, stageCtx.CurrentStage, stageIntents) {
			return ValidationResult{
				Allowed: false,
				Intent:  classification.Intent,
				Reason:  ReasonInvalidForStage,
				RejectionMessage: fmt.Sprintf(
					"%q is not available at the %s stage. Valid actions here: %s.",
					classification.Intent, stageCtx.CurrentStage,
					strings.Join(validActionsForStage(stageCtx.CurrentStage, stageIntents), ", ")),
			}
		}
	}

	return ValidationResult{Allowed: true, Intent: classification.Intent}
}

// intentAllowedAtStage applies the static per-stage policy: approve and
// progress everywhere, go-back everywhere but the entry stage, the rest per
// the allow-table.
func intentAllowedAtStage(intent Intent, stage string, table map[string][]Intent) bool {
	for _, universal := range universalIntents {
		if intent == universal {
			return true
		}
	}
	if intent == IntentGoBack {
		return stage != entryStage
	}
	for _, allowed := range table[stage] {
		if intent == allowed {
			return true
		}
	}
	return false
}

// validActionsForStage enumerates every intent the stage accepts, sorted
// for stable rejection messages.
func validActionsForStage(stage string, table map[string][]Intent) []string {
	actions := make([]string, 0, len(table[stage])+3)
	for _, intent := range table[stage] {
		actions = append(actions, string(intent))
	}
	for _, intent := range universalIntents {
		actions = append(actions, string(intent))
	}
	if stage != entryStage {
		actions = append(actions, string(IntentGoBack))
	}
	sort.Strings(actions)
	return actions
}

// =============================================================================
// Runtime Retargeting
// =============================================================================

// UpdateAllowedIntents replaces the intent keyword table. Text matching
// only the previous table's categories classifies as IntentUnknown
// afterwards.
func (g *Guard) UpdateAllowedIntents(rules []IntentRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = rules
}

// UpdateBlockedPatterns replaces the blocked-pattern set. The previous set
// stays active if any pattern fails to compile.
func (g *Guard) UpdateBlockedPatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("compile blocked pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = compiled
	return nil
}

// =============================================================================
// Quota Delegation
// =============================================================================

// CheckRateLimit reports the user's quota standing without consuming it.
func (g *Guard) CheckRateLimit(userID string) RateLimitResult {
	return g.limiter.Check(userID)
}

// RecordRequest consumes one quota event and updates the failure streak.
func (g *Guard) RecordRequest(userID string, success bool) {
	g.limiter.Record(userID, success)
}

// IsUserBlocked reports whether an unexpired failure-streak block exists.
func (g *Guard) IsUserBlocked(userID string) bool {
	return g.limiter.IsBlocked(userID)
}

// ClearRateLimitData resets all quota and streak state for the user.
func (g *Guard) ClearRateLimitData(userID string) {
	g.limiter.Clear(userID)
}

// UpdateLimits replaces the quota configuration at runtime.
func (g *Guard) UpdateLimits(limits Limits) {
	g.limiter.SetLimits(limits)
}
