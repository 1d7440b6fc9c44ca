// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// userState tracks one user's quota standing inside the current process.
type userState struct {
	// count is the number of requests recorded in the current window.
	count int

	// windowReset is when the current window rolls over.
	windowReset time.Time

	// failureStreak counts consecutive failed requests.
	failureStreak int

	// blockedUntil is nonzero while a failure-streak block is active.
	blockedUntil time.Time
}

// RateLimiter enforces a per-user fixed-window quota plus a
// consecutive-failure block.
//
// State is an explicit map keyed by user id, owned by this instance, and
// lives only in process memory: a restart forgets all quota and streak
// state. That trade-off is deliberate (see package doc).
//
// Thread Safety: RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limits Limits
	users  map[string]*userState
	now    func() time.Time
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(limits Limits) *RateLimiter {
	return &RateLimiter{
		limits: limits,
		users:  make(map[string]*userState),
		now:    time.Now,
	}
}

// state returns the user's entry, creating it with a fresh window and
// rolling an expired window. Callers hold r.mu.
func (r *RateLimiter) state(userID string, at time.Time) *userState {
	st, ok := r.users[userID]
	if !ok {
		st = &userState{windowReset: at.Add(r.limits.Window)}
		r.users[userID] = st
	}
	if !st.windowReset.After(at) {
		st.count = 0
		st.windowReset = at.Add(r.limits.Window)
	}
	return st
}

// Check reports the user's quota standing without consuming quota.
//
// Description:
//
//	Disallows once the window capacity is spent, and independently while
//	a failure-streak block is active -- a block rejects even a user with
//	remaining quota.
func (r *RateLimiter) Check(userID string) RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now()
	st := r.state(userID, at)

	remaining := r.limits.Capacity - st.count
	if remaining < 0 {
		remaining = 0
	}
	result := RateLimitResult{
		RequestsRemaining: remaining,
		ResetAt:           st.windowReset,
	}

	if st.blockedUntil.After(at) {
		until := st.blockedUntil
		result.BlockedUntil = &until
		observability.Default().RateLimitRejections.Inc()
		return result
	}
	if remaining == 0 {
		observability.Default().RateLimitRejections.Inc()
		return result
	}

	result.Allowed = true
	return result
}

// Record appends one quota-consuming event.
//
// Description:
//
//	A failed request extends the consecutive-failure streak; a successful
//	one resets it to zero. Reaching the failure threshold starts a block
//	window from now.
func (r *RateLimiter) Record(userID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now()
	st := r.state(userID, at)
	st.count++

	if success {
		st.failureStreak = 0
		return
	}

	st.failureStreak++
	if st.failureStreak >= r.limits.FailureThreshold {
		st.blockedUntil = at.Add(r.limits.BlockDuration)
	}
}

// IsBlocked reports whether the user has an unexpired failure-streak block.
func (r *RateLimiter) IsBlocked(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.users[userID]
	return ok && st.blockedUntil.After(r.now())
}

// Clear drops all quota and streak state for the user.
func (r *RateLimiter) Clear(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// SetLimits replaces the quota configuration. Existing windows and
// blocks keep their current expiry; new limits apply from the next
// window roll onward.
func (r *RateLimiter) SetLimits(limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = limits
}
