// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the model builder.
//
// # Description
//
// This package implements counters for monitoring the guided build
// workflow. Metrics include:
//   - Session lifecycle (created, archived, cleaned up)
//   - Stage progression
//   - Scope guard decisions (by outcome and rejection reason)
//   - Telemetry durability (log flushes, audit writes)
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "qmb"

// Subsystem for builder workflow metrics.
const builderSubsystem = "builder"

// Metrics holds all Prometheus metrics for the build workflow.
//
// # Description
//
// Provides counters for session lifecycle, guard decisions, and telemetry
// durability. Obtain the process-wide instance via Default(); tests create
// isolated instances with NewMetrics(prometheus.NewRegistry()).
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// SessionsCreated counts build sessions created.
	SessionsCreated prometheus.Counter

	// SessionsArchived counts sessions moved to the archive area.
	SessionsArchived prometheus.Counter

	// SessionsCleaned counts sessions reclaimed by age-based cleanup.
	SessionsCleaned prometheus.Counter

	// StageAdvances counts successful active-stage advances.
	StageAdvances prometheus.Counter

	// GuardDecisions counts scope guard decisions.
	// Labels: outcome (allowed, rejected), reason (empty when allowed).
	GuardDecisions *prometheus.CounterVec

	// RateLimitRejections counts requests rejected by quota or block.
	RateLimitRejections prometheus.Counter

	// LogFlushes counts telemetry buffer flushes to disk.
	LogFlushes prometheus.Counter

	// AuditWrites counts synchronous audit trail writes.
	AuditWrites prometheus.Counter
}

// NewMetrics creates and registers all metrics against the given registerer.
//
// Registering the same names twice on one registerer panics; use a fresh
// prometheus.NewRegistry() per test.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: builderSubsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		SessionsCreated:  counter("sessions_created_total", "Total build sessions created"),
		SessionsArchived: counter("sessions_archived_total", "Total sessions archived"),
		SessionsCleaned:  counter("sessions_cleaned_total", "Total sessions reclaimed by age-based cleanup"),
		StageAdvances:    counter("stage_advances_total", "Total successful stage advances"),
		GuardDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: builderSubsystem,
				Name:      "guard_decisions_total",
				Help:      "Total scope guard decisions by outcome and rejection reason",
			},
			[]string{"outcome", "reason"},
		),
		RateLimitRejections: counter("rate_limit_rejections_total", "Total requests rejected by quota or failure block"),
		LogFlushes:          counter("log_flushes_total", "Total telemetry buffer flushes"),
		AuditWrites:         counter("audit_writes_total", "Total audit trail writes"),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics instance, registered against the
// default Prometheus registry on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
